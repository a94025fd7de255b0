package request

type (
	Headers struct {
		Key   string
		Value string
	}

	Fields struct {
		Key   string
		Value string
	}

	Request struct {
		Url     string
		Method  string
		Headers []Headers
		Fields  []Fields
		// FileName and FileBytes describe an in-memory file to send as a
		// multipart upload.
		FileName  string
		FileBytes []byte
		Payload   interface{}
	}
)

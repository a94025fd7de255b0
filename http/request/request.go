package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"stylebird/logger"
)

var client = &http.Client{Timeout: 60 * time.Second}

func (r *Request) GetUrl() string {
	return r.Url
}

func (r *Request) GetMethod() string {
	return r.Method
}

func (r *Request) IsPost() bool {
	return r.Method == "POST"
}

func (r *Request) GetHeaders() []Headers {
	return r.Headers
}

func (r *Request) AddHeader(key string, value string) {
	r.Headers = append(r.Headers, Headers{Key: key, Value: value})
}

// Call executes the request. JSON responses are decoded into response;
// passing a *string captures the raw body instead.
func (r *Request) Call(response interface{}) error {
	var reqBody *bytes.Buffer

	if r.FileBytes != nil {
		reqBody = &bytes.Buffer{}
		writer := multipart.NewWriter(reqBody)

		contentType := http.DetectContentType(r.FileBytes)

		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, r.FileName))
		h.Set("Content-Type", contentType)

		part, err := writer.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create form part: %w", err)
		}
		written, err := part.Write(r.FileBytes)
		if err != nil {
			return fmt.Errorf("failed to write file content: %w", err)
		}
		logger.Debug("Copied bytes to form file", "bytes", written)

		for _, field := range r.Fields {
			if err := writer.WriteField(field.Key, field.Value); err != nil {
				return fmt.Errorf("failed to write field: %w", err)
			}
		}

		if err := writer.Close(); err != nil {
			return fmt.Errorf("failed to close writer: %w", err)
		}

		r.AddHeader("Content-Type", writer.FormDataContentType())
	} else if r.IsPost() {
		jsonData, err := json.Marshal(r.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	if reqBody == nil {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequest(r.GetMethod(), r.GetUrl(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create new request: %w", err)
	}

	for _, header := range r.GetHeaders() {
		req.Header.Set(header.Key, header.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	// Some endpoints return a plain string rather than JSON
	if strPtr, ok := response.(*string); ok {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		*strPtr = string(bodyBytes)
		return nil
	}

	if response != nil {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// Preflight checks a user-supplied URL before we commit to downloading it:
// scheme allow-list to block SSRF tricks, then a HEAD probe so users get
// fast feedback on dead links.
func Preflight(url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("invalid URL scheme: %s", url)
	}
	resp, err := client.Head(url)
	if err != nil {
		return fmt.Errorf("failed to reach URL: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("URL appears to be invalid (server response: %s)", resp.Status)
	}
	return nil
}

// Fetch downloads a URL capped at maxBytes.
func Fetch(url string, maxBytes int64) ([]byte, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds the %d byte limit", maxBytes)
	}
	return data, nil
}

// Package birdhole uploads finished images to a birdhole-style paste host
// and returns the public URL for them.
package birdhole

import (
	"encoding/json"
	"fmt"
	"strconv"

	"stylebird/http/request"
	"stylebird/settings"
)

// Upload posts the image bytes with a description and returns the hosted URL.
func Upload(fileName string, data []byte, description string, config settings.BirdholeConfig) (string, error) {
	fields := []request.Fields{
		{Key: "urllen", Value: strconv.Itoa(config.UrlLen)},
		{Key: "expiry", Value: strconv.Itoa(config.Expiry)},
		{Key: "description", Value: description},
	}

	upload := request.Request{
		Url:    config.Host + ":" + config.Port + config.EndPoint,
		Method: "POST",
		Headers: []request.Headers{
			{Key: "X-Auth-Token", Value: config.Key},
		},
		Fields:    fields,
		FileName:  fileName,
		FileBytes: data,
	}

	var response string
	if err := upload.Call(&response); err != nil {
		return "", err
	}

	var jsonResponse map[string]string
	if err := json.Unmarshal([]byte(response), &jsonResponse); err != nil {
		return "", fmt.Errorf("unexpected upload response: %w", err)
	}
	return jsonResponse["url"], nil
}

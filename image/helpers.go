package image

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
)

var ErrEmptyImage = errors.New("empty image data")

// Decode decodes PNG, JPEG or GIF bytes into an image.
func Decode(data []byte) (stdimage.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, _, err := stdimage.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// EncodeJpeg encodes an image as JPEG with default quality.
func EncodeJpeg(img stdimage.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, nil); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// IsSupported reports whether the bytes look like an image format we can
// decode, using content sniffing rather than file extensions.
func IsSupported(data []byte) bool {
	switch http.DetectContentType(data) {
	case "image/png", "image/jpeg", "image/gif":
		return true
	}
	return false
}

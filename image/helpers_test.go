package image

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	data := pngBytes(t, 32, 16)
	img, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Errorf("decoded bounds = %v, want 32x16", img.Bounds())
	}

	jpegData, err := EncodeJpeg(img)
	if err != nil {
		t.Fatalf("EncodeJpeg() failed: %v", err)
	}
	if !IsSupported(jpegData) {
		t.Error("IsSupported() = false for encoded jpeg")
	}

	if _, err := Decode(nil); err == nil {
		t.Error("Decode(nil) succeeded, want error")
	}
	if _, err := Decode([]byte("not an image")); err == nil {
		t.Error("Decode(garbage) succeeded, want error")
	}
}

func TestThumbnailPreservesAspectRatio(t *testing.T) {
	img, err := Decode(pngBytes(t, 1024, 512))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}

	small := Thumbnail(img, 512)
	if small.Bounds().Dx() != 512 || small.Bounds().Dy() != 256 {
		t.Errorf("thumbnail bounds = %v, want 512x256", small.Bounds())
	}

	// Already within bounds: untouched.
	same := Thumbnail(small, 512)
	if same != small {
		t.Error("Thumbnail() rescaled an image already within bounds")
	}
}

func TestScale(t *testing.T) {
	img, err := Decode(pngBytes(t, 100, 50))
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	out := Scale(img, 64, 64)
	if out.Bounds().Dx() != 64 || out.Bounds().Dy() != 64 {
		t.Errorf("scaled bounds = %v, want 64x64", out.Bounds())
	}
}

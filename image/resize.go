package image

import (
	stdimage "image"

	"golang.org/x/image/draw"
)

// Thumbnail scales an image down so that neither side exceeds maxSize,
// preserving aspect ratio. Images already small enough are returned as-is.
func Thumbnail(img stdimage.Image, maxSize int) stdimage.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxSize && height <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(max(width, height))
	newWidth := int(float64(width) * scale)
	newHeight := int(float64(height) * scale)
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := stdimage.NewRGBA(stdimage.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// Scale resizes an image to exactly width x height.
func Scale(img stdimage.Image, width, height int) stdimage.Image {
	dst := stdimage.NewRGBA(stdimage.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

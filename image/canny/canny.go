// Package canny extracts edge maps for controlnet conditioning.
package canny

import (
	"image"
	"image/color"
	"math"

	images "stylebird/image"
)

const (
	lowThreshold  = 100
	highThreshold = 200
)

// Detect computes a Canny edge map. Detection runs at detectResolution
// (target height, aspect preserved) and the result is scaled back to the
// input size, matching the usual controlnet preprocessor behavior. A
// detectResolution <= 0 detects at the input size.
func Detect(img image.Image, detectResolution int) image.Image {
	bounds := img.Bounds()
	work := img
	if detectResolution > 0 && bounds.Dy() != detectResolution {
		scale := float64(detectResolution) / float64(bounds.Dy())
		work = images.Scale(img, int(float64(bounds.Dx())*scale), detectResolution)
	}

	gray := toGray(work)
	blurred := gaussianBlur(gray)
	magnitude, direction := sobel(blurred)
	thin := nonMaxSuppress(magnitude, direction)
	edges := hysteresis(thin)

	if edges.Bounds() != bounds {
		return images.Scale(edges, bounds.Dx(), bounds.Dy())
	}
	return edges
}

func toGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			gray.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return gray
}

// gaussianBlur applies a 5x5 kernel with sigma 1.4.
func gaussianBlur(src *image.Gray) *image.Gray {
	kernel := [5][5]float64{
		{2, 4, 5, 4, 2},
		{4, 9, 12, 9, 4},
		{5, 12, 15, 12, 5},
		{4, 9, 12, 9, 4},
		{2, 4, 5, 4, 2},
	}
	const kernelSum = 159.0

	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			var sum float64
			for ky := -2; ky <= 2; ky++ {
				for kx := -2; kx <= 2; kx++ {
					sum += kernel[ky+2][kx+2] * float64(grayAt(src, x+kx, y+ky))
				}
			}
			dst.SetGray(x, y, color.Gray{Y: uint8(sum / kernelSum)})
		}
	}
	return dst
}

// sobel returns gradient magnitudes (normalized to 0..255) and directions.
func sobel(src *image.Gray) ([][]float64, [][]float64) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	magnitude := make([][]float64, height)
	direction := make([][]float64, height)

	maxMag := 1.0
	for y := 0; y < height; y++ {
		magnitude[y] = make([]float64, width)
		direction[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			px := bounds.Min.X + x
			py := bounds.Min.Y + y
			gx := -float64(grayAt(src, px-1, py-1)) + float64(grayAt(src, px+1, py-1)) +
				-2*float64(grayAt(src, px-1, py)) + 2*float64(grayAt(src, px+1, py)) +
				-float64(grayAt(src, px-1, py+1)) + float64(grayAt(src, px+1, py+1))
			gy := -float64(grayAt(src, px-1, py-1)) - 2*float64(grayAt(src, px, py-1)) - float64(grayAt(src, px+1, py-1)) +
				float64(grayAt(src, px-1, py+1)) + 2*float64(grayAt(src, px, py+1)) + float64(grayAt(src, px+1, py+1))
			mag := math.Hypot(gx, gy)
			magnitude[y][x] = mag
			direction[y][x] = math.Atan2(gy, gx)
			if mag > maxMag {
				maxMag = mag
			}
		}
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			magnitude[y][x] = magnitude[y][x] / maxMag * 255
		}
	}
	return magnitude, direction
}

// nonMaxSuppress keeps only pixels that are local maxima along the gradient
// direction.
func nonMaxSuppress(magnitude, direction [][]float64) [][]float64 {
	height := len(magnitude)
	width := len(magnitude[0])
	out := make([][]float64, height)
	for y := 0; y < height; y++ {
		out[y] = make([]float64, width)
		for x := 0; x < width; x++ {
			if y == 0 || x == 0 || y == height-1 || x == width-1 {
				continue
			}
			angle := direction[y][x] * 180 / math.Pi
			if angle < 0 {
				angle += 180
			}
			var a, b float64
			switch {
			case angle < 22.5 || angle >= 157.5:
				a, b = magnitude[y][x-1], magnitude[y][x+1]
			case angle < 67.5:
				a, b = magnitude[y-1][x+1], magnitude[y+1][x-1]
			case angle < 112.5:
				a, b = magnitude[y-1][x], magnitude[y+1][x]
			default:
				a, b = magnitude[y-1][x-1], magnitude[y+1][x+1]
			}
			if magnitude[y][x] >= a && magnitude[y][x] >= b {
				out[y][x] = magnitude[y][x]
			}
		}
	}
	return out
}

// hysteresis applies double thresholding: strong edges stay, weak edges stay
// only when touching a strong edge.
func hysteresis(magnitude [][]float64) *image.Gray {
	height := len(magnitude)
	width := len(magnitude[0])
	out := image.NewGray(image.Rect(0, 0, width, height))

	strong := func(y, x int) bool {
		return y >= 0 && y < height && x >= 0 && x < width && magnitude[y][x] >= highThreshold
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mag := magnitude[y][x]
			switch {
			case mag >= highThreshold:
				out.SetGray(x, y, color.Gray{Y: 255})
			case mag >= lowThreshold:
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if strong(y+dy, x+dx) {
							out.SetGray(x, y, color.Gray{Y: 255})
						}
					}
				}
			}
		}
	}
	return out
}

func grayAt(img *image.Gray, x, y int) uint8 {
	bounds := img.Bounds()
	if x < bounds.Min.X {
		x = bounds.Min.X
	}
	if x >= bounds.Max.X {
		x = bounds.Max.X - 1
	}
	if y < bounds.Min.Y {
		y = bounds.Min.Y
	}
	if y >= bounds.Max.Y {
		y = bounds.Max.Y - 1
	}
	return img.GrayAt(x, y).Y
}

package preprocess

import (
	"image"

	"github.com/nfnt/resize"
)

// Overview downscales img so that its longest side is at most size pixels.
// Images already small enough are returned as is.
func Overview(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return img
	}
	return resize.Thumbnail(uint(size), uint(size), img, resize.Bilinear)
}

package decode

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Upright rotates img clockwise by rotation degrees. Right angles are
// lossless; other angles fill the corners with white.
func Upright(img image.Image, rotation int) image.Image {
	rotation %= 360
	if rotation < 0 {
		rotation += 360
	}

	// imaging rotates counter-clockwise
	switch rotation {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, float64(360-rotation), color.White)
	}
}

package imaging

import (
	"image"
	"image/color"
)

// TestPattern renders a gradient whose hue shifts with seed, so consecutive
// mock frames differ and a timelapse of them visibly animates.
func TestPattern(width, height, seed int) *image.RGBA {
	if width <= 0 {
		width = 64
	}
	if height <= 0 {
		height = 48
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	shift := uint8(seed * 17)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/width) + shift,
				G: uint8(y*255/height) + shift,
				B: shift,
				A: 255,
			})
		}
	}
	return img
}

package quality

import (
	"image"
	"image/color"
)

// IsSkin classifies a pixel with the YCbCr box rule:
// Y > 35, Cb in [77,127], Cr in [133,173].
func IsSkin(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	y, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(b>>8))
	return y > 35 && cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173
}

// SkinRatio is the fraction of pixels in r classified as skin.
func SkinRatio(img image.Image, r image.Rectangle) float64 {
	r = r.Intersect(img.Bounds())
	n := r.Dx() * r.Dy()
	if n <= 0 {
		return 0
	}
	var skin int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if IsSkin(img.At(x, y)) {
				skin++
			}
		}
	}
	return float64(skin) / float64(n)
}

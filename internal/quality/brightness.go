package quality

import "image"

const brightnessSampleWidth = 64

// EstimateBrightness returns the mean BT.709 luma of the frame in [0,255].
// Frames wider than 64px are sampled on a coarse grid instead of read in full.
func EstimateBrightness(img image.Image) float64 {
	b := img.Bounds()
	if b.Empty() {
		return 0
	}
	step := 1
	if b.Dx() > brightnessSampleWidth {
		step = (b.Dx() + brightnessSampleWidth - 1) / brightnessSampleWidth
	}

	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			sum += luma(img.At(x, y))
			n++
		}
	}
	return sum / float64(n)
}

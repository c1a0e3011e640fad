package quality

import "image"

// SharpnessOptions controls the Laplacian-variance estimator.
type SharpnessOptions struct {
	// Denoise applies a 3x3 box blur before the Laplacian to damp sensor noise.
	Denoise bool
	// ROI is the fraction of the region, centred, that is scored. Clamped to [0.55, 0.75].
	ROI float64
}

func DefaultSharpnessOptions() SharpnessOptions {
	return SharpnessOptions{Denoise: true, ROI: 0.65}
}

// Sharpness returns the variance of the 4-neighbour Laplacian over the centred
// ROI of region. Higher is sharper; the value is not clamped.
func Sharpness(img image.Image, region image.Rectangle, opts SharpnessOptions) float64 {
	gray := toGray(img, region)
	if gray.w < 3 || gray.h < 3 {
		return 0
	}
	if opts.Denoise {
		gray = boxBlur3(gray)
	}

	roi := opts.ROI
	if roi < 0.55 {
		roi = 0.55
	} else if roi > 0.75 {
		roi = 0.75
	}
	rw := int(float64(gray.w) * roi)
	rh := int(float64(gray.h) * roi)
	x0 := (gray.w - rw) / 2
	y0 := (gray.h - rh) / 2
	// Keep one pixel of context on every side for the kernel.
	if x0 < 1 {
		x0 = 1
	}
	if y0 < 1 {
		y0 = 1
	}
	x1 := min(x0+rw, gray.w-1)
	y1 := min(y0+rh, gray.h-1)

	var sum, sq float64
	var n int
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			v := 4*gray.at(x, y) - gray.at(x-1, y) - gray.at(x+1, y) - gray.at(x, y-1) - gray.at(x, y+1)
			sum += v
			sq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sq/float64(n) - mean*mean
}

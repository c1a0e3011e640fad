// Package quality holds the per-frame image signals used to gate capture:
// brightness, Laplacian sharpness, skin classification and occlusion.
package quality

import (
	"image"
	"image/color"
	"math"
)

// BT.709 luma weights.
const (
	lumaR = 0.2126
	lumaG = 0.7152
	lumaB = 0.0722
)

func luma(c color.Color) float64 {
	r, g, b, _ := c.RGBA()
	return lumaR*float64(r>>8) + lumaG*float64(g>>8) + lumaB*float64(b>>8)
}

// grayPlane is a row-major luma buffer for a rectangle of a frame.
type grayPlane struct {
	w, h int
	pix  []float64
}

func (p *grayPlane) at(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return p.pix[y*p.w+x]
}

func toGray(img image.Image, r image.Rectangle) *grayPlane {
	r = r.Intersect(img.Bounds())
	p := &grayPlane{w: r.Dx(), h: r.Dy()}
	if p.w <= 0 || p.h <= 0 {
		p.w, p.h = 0, 0
		return p
	}
	p.pix = make([]float64, p.w*p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = luma(img.At(r.Min.X+x, r.Min.Y+y))
		}
	}
	return p
}

// boxBlur3 applies a 3x3 mean filter with edge clamping.
func boxBlur3(p *grayPlane) *grayPlane {
	out := &grayPlane{w: p.w, h: p.h, pix: make([]float64, len(p.pix))}
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			var sum float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					sum += p.at(x+dx, y+dy)
				}
			}
			out.pix[y*p.w+x] = sum / 9
		}
	}
	return out
}

// meanStd returns the mean and population standard deviation of luma over r.
func meanStd(img image.Image, r image.Rectangle) (float64, float64) {
	r = r.Intersect(img.Bounds())
	n := r.Dx() * r.Dy()
	if n <= 0 {
		return 0, 0
	}
	var sum, sq float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			l := luma(img.At(x, y))
			sum += l
			sq += l * l
		}
	}
	mean := sum / float64(n)
	variance := sq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

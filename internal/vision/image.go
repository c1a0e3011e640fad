package vision

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/your-org/attendance/internal/models"
)

// Channel normalisation: pixel = (pixel - mean) / std.
const (
	detMean, detStd = 127.5, 128.0
	embMean, embStd = 127.5, 127.5
	lmMean, lmStd   = 0.0, 255.0
)

// toCHW resizes img to w x h and lays it out as planar RGB floats.
func toCHW(img image.Image, w, h int, mean, std float32) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := w * h
	out := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			out[i] = (float32(row[x*4]) - mean) / std
			out[plane+i] = (float32(row[x*4+1]) - mean) / std
			out[2*plane+i] = (float32(row[x*4+2]) - mean) / std
		}
	}
	return out
}

// squareCrop grows box by pad on every side, squares it around its centre
// and clips it to bounds. The result is empty when nothing overlaps.
func squareCrop(bounds image.Rectangle, box models.Box, pad float64) image.Rectangle {
	side := math.Max(box.Width(), box.Height()) * (1 + 2*pad)
	cx := (box.X1 + box.X2) / 2
	cy := (box.Y1 + box.Y2) / 2
	r := image.Rect(
		int(math.Floor(cx-side/2)), int(math.Floor(cy-side/2)),
		int(math.Ceil(cx+side/2)), int(math.Ceil(cy+side/2)),
	)
	return r.Intersect(bounds)
}

// crop copies r out of img into a zero-origin RGBA.
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// normalize scales v to unit L2 length in place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}

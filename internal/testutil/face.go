// Package testutil builds synthetic frames, embeddings and fakes for package tests.
package testutil

import (
	"image"
	"image/color"
	"math"

	"github.com/your-org/attendance/internal/models"
)

var (
	Background = color.RGBA{110, 110, 110, 255}
	Skin       = color.RGBA{224, 172, 140, 255}
	SkinShade  = color.RGBA{175, 125, 95, 255}
	Lip        = color.RGBA{150, 40, 50, 255}
	Sclera     = color.RGBA{245, 245, 245, 255}
	Pupil      = color.RGBA{25, 20, 20, 255}
	MaskBlue   = color.RGBA{40, 80, 200, 255}
)

// Face variants encoded in the marker block so that a decoded photo still
// tells the marker detector what it is looking at.
const (
	VariantNormal        = 0
	VariantLowConfidence = 1
	VariantClosedEye     = 2
)

// FaceOptions describes a synthetic 240x240 frame with a frontal face.
type FaceOptions struct {
	// Index selects the embedding variant the marker detector will report.
	Index int
	// NoFace clears the marker so the marker detector reports nothing.
	NoFace bool
	// Variant is one of the Variant* constants.
	Variant int
	// Mask paints a non-skin mask over nose, mouth and chin.
	Mask bool
	// BlurPasses runs a 5x5 box blur this many times over the finished frame.
	BlurPasses int
	// Dim scales every channel, 1 (or 0) keeps the frame as drawn.
	Dim float64
}

const (
	FrameSize   = 240
	markerSize  = 16
	markerLevel = 8
)

// FaceBox is the face bounding box in every synthetic frame.
var FaceBox = models.Box{X1: 40, Y1: 30, X2: 200, Y2: 210}

// SyntheticFace draws a frame and returns it with its landmarks.
func SyntheticFace(opts FaceOptions) (*image.RGBA, []models.Point) {
	img := image.NewRGBA(image.Rect(0, 0, FrameSize, FrameSize))
	fill(img, img.Bounds(), Background)

	b := FaceBox
	w, h := b.Width(), b.Height()
	fx := func(f float64) float64 { return b.X1 + f*w }
	fy := func(f float64) float64 { return b.Y1 + f*h }

	fill(img, rect(b.X1, b.Y1, b.X2, b.Y2), Skin)
	// Cheek shading keeps the skin from being perfectly flat.
	ellipse(img, fx(0.22), fy(0.6), 0.08*w, 0.06*h, SkinShade)
	ellipse(img, fx(0.78), fy(0.6), 0.08*w, 0.06*h, SkinShade)

	// 3px checker on the forehead gives the frame its high-frequency detail.
	for y := int(fy(0.10)); y < int(fy(0.34)); y++ {
		for x := int(fx(0.2)); x < int(fx(0.8)); x++ {
			if ((x/3)+(y/3))%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}

	for _, cx := range []float64{0.32, 0.68} {
		ellipse(img, fx(cx), fy(0.42), 0.09*w, 0.03*h, Sclera)
		ellipse(img, fx(cx), fy(0.42), 0.025*w, 0.025*w, Pupil)
	}
	ellipse(img, fx(0.5), fy(0.78), 0.18*w, 0.05*h, Lip)

	closed := opts.Variant == VariantClosedEye
	if closed {
		fill(img, rect(fx(0.32)-0.13*w, fy(0.42)-0.07*h, fx(0.32)+0.13*w, fy(0.42)+0.07*h), MaskBlue)
	}
	if opts.Mask {
		fill(img, rect(fx(0.1), fy(0.6), fx(0.9), b.Y2), MaskBlue)
	}

	for i := 0; i < opts.BlurPasses; i++ {
		img = boxBlur5(img)
	}
	if opts.Dim > 0 && opts.Dim != 1 {
		dim(img, opts.Dim)
	}

	drawMarker(img, opts)
	return img, Landmarks68(b, closed)
}

// Landmarks68 returns 68 points in iBUG order laid out for box.
func Landmarks68(b models.Box, closedLeftEye bool) []models.Point {
	w, h := b.Width(), b.Height()
	pt := func(fx, fy float64) models.Point { return models.Point{X: b.X1 + fx*w, Y: b.Y1 + fy*h} }

	lm := make([]models.Point, 0, models.LandmarkCount)
	for k := 0; k <= 16; k++ {
		theta := math.Pi - math.Pi*float64(k)/16
		lm = append(lm, pt(0.5+0.5*math.Cos(theta), 0.45+0.53*math.Sin(theta)))
	}
	for k := 0; k < 5; k++ {
		lm = append(lm, pt(0.2+0.055*float64(k), 0.33))
	}
	for k := 0; k < 5; k++ {
		lm = append(lm, pt(0.58+0.055*float64(k), 0.33))
	}
	for k := 0; k < 4; k++ {
		lm = append(lm, pt(0.5, 0.44+0.06*float64(k)))
	}
	for k := 0; k < 5; k++ {
		lm = append(lm, pt(0.42+0.04*float64(k), 0.65))
	}
	eye := func(cx float64, closed bool) {
		hw, hh := 0.09, 0.03
		if closed {
			hh = 0.002
		}
		lm = append(lm,
			pt(cx-hw, 0.42), pt(cx-hw/2, 0.42-hh), pt(cx+hw/2, 0.42-hh),
			pt(cx+hw, 0.42), pt(cx+hw/2, 0.42+hh), pt(cx-hw/2, 0.42+hh))
	}
	eye(0.32, closedLeftEye)
	eye(0.68, false)
	for k := 0; k < 12; k++ {
		phi := math.Pi + 2*math.Pi*float64(k)/12
		lm = append(lm, pt(0.5+0.18*math.Cos(phi), 0.78+0.05*math.Sin(phi)))
	}
	for k := 0; k < 8; k++ {
		phi := math.Pi + 2*math.Pi*float64(k)/8
		lm = append(lm, pt(0.5+0.12*math.Cos(phi), 0.78+0.02*math.Sin(phi)))
	}
	return lm
}

func drawMarker(img *image.RGBA, opts FaceOptions) {
	c := color.RGBA{0, 0, 0, 255}
	if !opts.NoFace {
		c = color.RGBA{255, uint8(opts.Index * markerLevel), uint8(opts.Variant * 96), 255}
	}
	fill(img, image.Rect(0, 0, markerSize, markerSize), c)
}

// readMarker decodes the marker block; ok is false when no face is marked.
func readMarker(img image.Image) (index, variant int, ok bool) {
	b := img.Bounds()
	if b.Dx() < markerSize || b.Dy() < markerSize {
		return 0, 0, false
	}
	r, g, bl, _ := img.At(b.Min.X+markerSize/2, b.Min.Y+markerSize/2).RGBA()
	if r>>8 < 128 {
		return 0, 0, false
	}
	index = int(math.Round(float64(g>>8) / markerLevel))
	variant = int(math.Round(float64(bl>>8) / 96))
	return index, variant, true
}

func rect(x1, y1, x2, y2 float64) image.Rectangle {
	return image.Rect(int(x1), int(y1), int(x2), int(y2))
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func ellipse(img *image.RGBA, cx, cy, rx, ry float64, c color.RGBA) {
	for y := int(cy - ry); y <= int(cy+ry); y++ {
		for x := int(cx - rx); x <= int(cx+rx); x++ {
			dx := (float64(x) + 0.5 - cx) / rx
			dy := (float64(y) + 0.5 - cy) / ry
			if dx*dx+dy*dy <= 1 && image.Pt(x, y).In(img.Bounds()) {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func boxBlur5(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			var r, g, bl, n int
			for dy := -2; dy <= 2; dy++ {
				for dx := -2; dx <= 2; dx++ {
					p := image.Pt(x+dx, y+dy)
					if !p.In(b) {
						continue
					}
					c := src.RGBAAt(p.X, p.Y)
					r += int(c.R)
					g += int(c.G)
					bl += int(c.B)
					n++
				}
			}
			dst.SetRGBA(x, y, color.RGBA{uint8(r / n), uint8(g / n), uint8(bl / n), 255})
		}
	}
	return dst
}

func dim(img *image.RGBA, f float64) {
	for i := 0; i+3 < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			img.Pix[i+c] = uint8(math.Min(255, float64(img.Pix[i+c])*f))
		}
	}
}

// Package evidence renders the watermarked photo attached to an attendance event.
package evidence

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
)

const (
	maxAttempts  = 8
	qualityStep  = 10
	widthFactor  = 0.8
	labelPadding = 6
	labelMargin  = 8
)

var (
	labelBackground = color.NRGBA{A: 150}
	labelText       = color.White
)

// Label is the text stamped on the evidence image.
type Label struct {
	Timestamp  time.Time
	Position   *models.Position
	OfficeName string
	DeviceID   string
}

func (l Label) lines() []string {
	gps := "GPS unavailable"
	if l.Position != nil {
		gps = fmt.Sprintf("%.5f, %.5f acc %.0fm", l.Position.Lat, l.Position.Lng, l.Position.AccuracyM)
	}
	lines := []string{l.Timestamp.Format("2006-01-02 15:04:05 MST"), gps}
	if l.OfficeName != "" {
		lines = append(lines, l.OfficeName)
	}
	if l.DeviceID != "" {
		lines = append(lines, "device "+l.DeviceID)
	}
	return lines
}

// Budget bounds the encoded result.
type Budget struct {
	MaxWidth   int
	MinWidth   int
	Quality    int
	MinQuality int
	MaxBytes   int
}

func BudgetFromConfig(cfg config.PolicyConfig) Budget {
	return Budget{
		MaxWidth:   cfg.EvidenceMaxWidth,
		MinWidth:   cfg.EvidenceMinWidth,
		Quality:    cfg.EvidenceQuality,
		MinQuality: cfg.EvidenceMinQuality,
		MaxBytes:   cfg.EvidenceMaxBytes,
	}
}

type Result struct {
	Bytes        []byte
	Width        int
	Height       int
	Quality      int
	Attempts     int
	WithinBudget bool
}

type Generator struct {
	face font.Face
}

func NewGenerator() *Generator {
	return &Generator{face: basicfont.Face7x13}
}

// Generate scales frame to the budget width, stamps the label and encodes
// JPEG. While the output is over MaxBytes it first lowers quality in steps
// of 10 down to MinQuality, then shrinks width by 20% down to MinWidth. It
// stops after a fixed number of attempts and returns the smallest encoding.
func (g *Generator) Generate(frame image.Image, label Label, b Budget) (*Result, error) {
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("generate evidence: %w", models.ErrNoFrame)
	}
	b = b.normalize(frame.Bounds().Dx())
	lines := label.lines()

	width, quality := b.MaxWidth, b.Quality
	var best *Result
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		img := g.render(frame, width, lines)

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode evidence: %w", err)
		}
		if best == nil || buf.Len() < len(best.Bytes) {
			best = &Result{
				Bytes:   buf.Bytes(),
				Width:   img.Bounds().Dx(),
				Height:  img.Bounds().Dy(),
				Quality: quality,
			}
		}
		if buf.Len() <= b.MaxBytes {
			break
		}

		var ok bool
		if width, quality, ok = b.next(width, quality); !ok {
			break
		}
	}

	best.Attempts = attempts
	best.WithinBudget = len(best.Bytes) <= b.MaxBytes
	observability.EvidenceAttempts.Observe(float64(attempts))
	return best, nil
}

// next lowers quality first, then width. ok is false once both are at their floor.
func (b Budget) next(width, quality int) (int, int, bool) {
	switch {
	case quality > b.MinQuality:
		return width, max(quality-qualityStep, b.MinQuality), true
	case width > b.MinWidth:
		return max(int(float64(width)*widthFactor), b.MinWidth), quality, true
	default:
		return width, quality, false
	}
}

func (b Budget) normalize(frameWidth int) Budget {
	if b.MaxWidth <= 0 || b.MaxWidth > frameWidth {
		b.MaxWidth = frameWidth
	}
	if b.MinWidth <= 0 || b.MinWidth > b.MaxWidth {
		b.MinWidth = b.MaxWidth
	}
	if b.Quality <= 0 || b.Quality > 100 {
		b.Quality = jpeg.DefaultQuality
	}
	if b.MinQuality <= 0 || b.MinQuality > b.Quality {
		b.MinQuality = b.Quality
	}
	if b.MaxBytes <= 0 {
		b.MaxBytes = int(^uint(0) >> 1)
	}
	return b
}

// render scales frame to width keeping aspect and draws the label block in
// the top-right corner, clipped to the image.
func (g *Generator) render(frame image.Image, width int, lines []string) *image.RGBA {
	src := frame.Bounds()
	height := max(src.Dy()*width/src.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, src, draw.Src, nil)

	d := &font.Drawer{Dst: dst, Src: image.NewUniform(labelText), Face: g.face}
	metrics := g.face.Metrics()
	lineH := metrics.Height.Ceil()

	textW := 0
	for _, l := range lines {
		textW = max(textW, d.MeasureString(l).Ceil())
	}
	blockW := textW + 2*labelPadding
	blockH := lineH*len(lines) + 2*labelPadding

	block := image.Rect(width-labelMargin-blockW, labelMargin, width-labelMargin, labelMargin+blockH).
		Intersect(dst.Bounds())
	if block.Empty() {
		return dst
	}
	draw.Draw(dst, block, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	for i, l := range lines {
		d.Dot = fixed.P(block.Min.X+labelPadding, block.Min.Y+labelPadding+i*lineH+metrics.Ascent.Ceil())
		d.DrawString(l)
	}
	return dst
}

package evidence

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/models"
)

func noisyFrame(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	return img
}

func label() Label {
	return Label{
		Timestamp:  time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC),
		Position:   &models.Position{Lat: 52.52, Lng: 13.405, AccuracyM: 14},
		OfficeName: "Berlin HQ",
		DeviceID:   "kiosk-1",
	}
}

func TestGenerate_FitsGenerousBudget(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 800, 600))
	res, err := NewGenerator().Generate(frame, label(), Budget{
		MaxWidth: 640, MinWidth: 240, Quality: 80, MinQuality: 40, MaxBytes: 1 << 20,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.WithinBudget)
	assert.Equal(t, 640, res.Width)
	assert.Equal(t, 480, res.Height)
	assert.Equal(t, 80, res.Quality)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(res.Bytes))
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
}

func TestGenerate_LabelIsDrawnTopRight(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for i := range frame.Pix {
		frame.Pix[i] = 255
	}
	g := NewGenerator()
	img := g.render(frame, 400, label().lines())

	// Top-right is darkened by the label block, bottom-left is untouched.
	r, _, _, _ := img.At(400-labelMargin-2, labelMargin+2).RGBA()
	assert.Less(t, r>>8, uint32(200))
	r, _, _, _ = img.At(5, 295).RGBA()
	assert.Equal(t, uint32(255), r>>8)
}

func TestGenerate_LowersQualityThenWidth(t *testing.T) {
	frame := noisyFrame(640, 480, 1)
	res, err := NewGenerator().Generate(frame, label(), Budget{
		MaxWidth: 640, MinWidth: 240, Quality: 80, MinQuality: 40, MaxBytes: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, maxAttempts, res.Attempts)
	assert.False(t, res.WithinBudget)
	assert.Equal(t, 40, res.Quality)
	assert.Less(t, res.Width, 640)
	assert.GreaterOrEqual(t, res.Width, 240)
}

func TestGenerate_DegenerateFrameTerminates(t *testing.T) {
	frame := noisyFrame(1000, 1, 7)
	res, err := NewGenerator().Generate(frame, Label{Timestamp: time.Now()}, Budget{
		MaxWidth: 1000, MinWidth: 240, Quality: 90, MinQuality: 40, MaxBytes: 64,
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, res.Attempts, maxAttempts)
	assert.Equal(t, 1, res.Height)
	atFloor := res.Quality == 40 || res.Width == 240
	assert.True(t, res.WithinBudget || atFloor, "bytes=%d quality=%d width=%d", len(res.Bytes), res.Quality, res.Width)
}

func TestGenerate_NoFrame(t *testing.T) {
	_, err := NewGenerator().Generate(nil, label(), Budget{})
	assert.ErrorIs(t, err, models.ErrNoFrame)
}

func TestBudgetNext(t *testing.T) {
	b := Budget{MaxWidth: 640, MinWidth: 240, Quality: 80, MinQuality: 45}

	w, q, ok := b.next(640, 50)
	assert.True(t, ok)
	assert.Equal(t, 640, w)
	assert.Equal(t, 45, q, "quality never drops below the floor")

	w, q, ok = b.next(260, 45)
	assert.True(t, ok)
	assert.Equal(t, 240, w)
	assert.Equal(t, 45, q)

	_, _, ok = b.next(240, 45)
	assert.False(t, ok)
}

func TestLabelLines(t *testing.T) {
	l := Label{Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, []string{"2025-01-01 00:00:00 UTC", "GPS unavailable"}, l.lines())
	assert.Contains(t, label().lines()[1], "52.52000, 13.40500")
}

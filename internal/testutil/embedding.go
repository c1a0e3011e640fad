package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/your-org/attendance/internal/models"
)

const EmbeddingDim = 128

// Embedding returns a synthetic descriptor. Variant 0 is the identity's base;
// other variants sit scale from the base and scale*sqrt(2) from each other.
// Different identities are more than 1.4 apart.
func Embedding(identity, variant int, scale float64) []float32 {
	v := make([]float32, EmbeddingDim)
	for i := range v {
		v[i] = 0.05
	}
	v[EmbeddingDim-1-identity%16] += 1.0
	if variant > 0 {
		v[(variant-1)%(EmbeddingDim-16)] += float32(scale)
	}
	return v
}

// MarkerDetector reads the marker block written by SyntheticFace and reports a
// detection with identity-scoped embeddings.
type MarkerDetector struct {
	Identity int
	Scale    float64

	mu    sync.Mutex
	calls int
}

func (d *MarkerDetector) Detect(_ context.Context, img image.Image) (*models.FaceDetection, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	index, variant, ok := readMarker(img)
	if !ok {
		return nil, nil
	}
	score := 0.95
	if variant == VariantLowConfidence {
		score = 0.3
	}
	return &models.FaceDetection{
		Box:       FaceBox,
		Landmarks: Landmarks68(FaceBox, variant == VariantClosedEye),
		Score:     score,
		Embedding: Embedding(d.Identity, index, d.Scale),
	}, nil
}

func (d *MarkerDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// DetectorFunc adapts a function to the detector interfaces.
type DetectorFunc func(ctx context.Context, img image.Image) (*models.FaceDetection, error)

func (f DetectorFunc) Detect(ctx context.Context, img image.Image) (*models.FaceDetection, error) {
	return f(ctx, img)
}

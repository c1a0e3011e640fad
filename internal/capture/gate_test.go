package capture

import (
	"context"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/quality"
	"github.com/your-org/attendance/internal/testutil"
)

func testGateConfig() GateConfig {
	return GateConfig{
		Target:            20,
		MinConfidence:     0.55,
		BaseBlurThreshold: 260,
		AnchorCeiling:     0.58,
		MinDiversityPct:   15,
		PhotoQuality:      90,
	}
}

func face(opts testutil.FaceOptions) image.Image {
	img, _ := testutil.SyntheticFace(opts)
	return img
}

func TestGate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		opts   testutil.FaceOptions
		state  FlowState
		reason string
		hint   string
	}{
		{"no face", testutil.FaceOptions{NoFace: true}, StateScanning, "no-face", HintNoFace},
		{"low confidence", testutil.FaceOptions{Variant: testutil.VariantLowConfidence}, StateLowConfidence, "confidence", HintLowConfidence},
		{"mask", testutil.FaceOptions{Mask: true}, StateLowConfidence, quality.ReasonLowerFaceCovered, occlusionHints[quality.ReasonLowerFaceCovered]},
		{"covered eye", testutil.FaceOptions{Variant: testutil.VariantClosedEye}, StateLowConfidence, quality.ReasonEyesCovered, occlusionHints[quality.ReasonEyesCovered]},
		{"blurry", testutil.FaceOptions{BlurPasses: 3}, StateBlurry, "blurry", HintBlurry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
			tr := g.Tick(context.Background(), face(tc.opts))

			assert.Equal(t, tc.state, tr.State)
			assert.Contains(t, tr.Reason, tc.reason)
			assert.Equal(t, tc.hint, tr.Hint)
			assert.False(t, tr.Accepted)
			assert.Equal(t, 0, tr.Count)
			assert.Equal(t, 20, tr.Target)
		})
	}
}

func TestGate_AcceptsAndReportsDiagnostics(t *testing.T) {
	g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
	tr := g.Tick(context.Background(), face(testutil.FaceOptions{}))

	require.Equal(t, StateCaptured, tr.State)
	assert.True(t, tr.Accepted)
	assert.Equal(t, 1, tr.Count)
	assert.True(t, tr.Diagnostics.FaceDetected)
	assert.Equal(t, quality.LevelGood, tr.Diagnostics.LightLevel)
	assert.Equal(t, quality.LevelGood, tr.Diagnostics.DistanceLevel)
	assert.Greater(t, tr.Diagnostics.Sharpness, 260.0)

	s := g.Session()
	require.Equal(t, 1, s.Len())
	assert.NotEmpty(t, s.Samples[0].Photo)
	assert.Equal(t, testutil.Embedding(0, 0, 0.3), s.Anchor())
}

func TestGate_DimFrameUsesScaledBlurThreshold(t *testing.T) {
	g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
	tr := g.Tick(context.Background(), face(testutil.FaceOptions{Dim: 0.25}))

	assert.Equal(t, quality.LevelCritical, tr.Diagnostics.LightLevel)
	// Under the 260 base threshold, over 260*0.6.
	assert.Less(t, tr.Diagnostics.Sharpness, 260.0)
	assert.Equal(t, StateCaptured, tr.State)
}

func TestGate_NoFaceResetsDiagnostics(t *testing.T) {
	g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
	ctx := context.Background()
	g.Tick(ctx, face(testutil.FaceOptions{}))

	tr := g.Tick(ctx, face(testutil.FaceOptions{NoFace: true}))
	assert.Equal(t, Diagnostics{}, tr.Diagnostics)
	assert.Equal(t, 1, tr.Count, "accepted samples survive a lost face")
}

func TestGate_IdenticalEmbeddingIsTooSimilar(t *testing.T) {
	g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
	ctx := context.Background()
	frame := face(testutil.FaceOptions{Index: 3})

	require.Equal(t, StateCaptured, g.Tick(ctx, frame).State)
	tr := g.Tick(ctx, frame)
	assert.Equal(t, StateTooSimilar, tr.State)
	assert.Equal(t, HintTooSimilar, tr.Hint)
	assert.Equal(t, 1, tr.Count)
}

func TestGate_DifferentPersonRejected(t *testing.T) {
	identity := 0
	det := testutil.DetectorFunc(func(ctx context.Context, img image.Image) (*models.FaceDetection, error) {
		d, err := (&testutil.MarkerDetector{Identity: identity, Scale: 0.3}).Detect(ctx, img)
		return d, err
	})
	g := NewGate(det, testGateConfig(), nil)
	ctx := context.Background()

	require.Equal(t, StateCaptured, g.Tick(ctx, face(testutil.FaceOptions{Index: 0})).State)
	identity = 1
	tr := g.Tick(ctx, face(testutil.FaceOptions{Index: 1}))
	assert.Equal(t, StateLowConfidence, tr.State)
	assert.Equal(t, HintDifferentPerson, tr.Hint)
	assert.Equal(t, 1, tr.Count)
}

func TestGate_CompletedSkipsDetection(t *testing.T) {
	cfg := testGateConfig()
	cfg.Target = 2
	det := &testutil.MarkerDetector{Scale: 0.3}
	g := NewGate(det, cfg, nil)
	ctx := context.Background()

	assert.Equal(t, StateCaptured, g.Tick(ctx, face(testutil.FaceOptions{Index: 0})).State)
	assert.Equal(t, StateCompleted, g.Tick(ctx, face(testutil.FaceOptions{Index: 1})).State)
	calls := det.Calls()

	tr := g.Tick(ctx, face(testutil.FaceOptions{Index: 2}))
	assert.Equal(t, StateCompleted, tr.State)
	assert.False(t, tr.Accepted)
	assert.Equal(t, calls, det.Calls())

	g.Reset()
	sess := g.Session()
	assert.Equal(t, 0, sess.Len())
	assert.False(t, g.Complete())
}

func TestGate_DetectorErrorIsAState(t *testing.T) {
	det := testutil.DetectorFunc(func(context.Context, image.Image) (*models.FaceDetection, error) {
		return nil, models.ErrModelNotLoaded
	})
	tr := NewGate(det, testGateConfig(), nil).Tick(context.Background(), face(testutil.FaceOptions{}))
	assert.Equal(t, StateScanning, tr.State)
	assert.Equal(t, HintDetectorError, tr.Hint)
}

func TestDiversityPct(t *testing.T) {
	a := testutil.Embedding(0, 0, 0)
	samples := []Sample{{Embedding: a}}
	assert.InDelta(t, 0, diversityPct(samples, a), 1e-9)
	assert.InDelta(t, 30, diversityPct(samples, testutil.Embedding(0, 1, 0.3)), 1e-3)
	assert.Equal(t, 100.0, diversityPct(samples, testutil.Embedding(3, 0, 0)))
}

// Every embedding the gate accepts stays within the anchor ceiling, for
// offsets on both sides of it.
func FuzzGate_AnchorCeiling(f *testing.F) {
	for _, seed := range []float64{0.3, 0.57, 0.58, 0.5801, 0.59, 0.9} {
		f.Add(seed, seed+0.01, seed-0.02)
	}
	frame := face(testutil.FaceOptions{})
	anchor := testutil.Embedding(0, 0, 0)

	f.Fuzz(func(t *testing.T, a, b, c float64) {
		queue := [][]float32{anchor}
		for i, off := range []float64{a, b, c} {
			if math.IsNaN(off) || off < 0 || off > 2 {
				t.Skip()
			}
			queue = append(queue, testutil.Embedding(0, i+1, off))
		}
		next := 0
		det := testutil.DetectorFunc(func(context.Context, image.Image) (*models.FaceDetection, error) {
			emb := queue[next]
			next++
			return &models.FaceDetection{
				Box:       testutil.FaceBox,
				Landmarks: testutil.Landmarks68(testutil.FaceBox, false),
				Score:     0.9,
				Embedding: emb,
			}, nil
		})

		g := NewGate(det, testGateConfig(), nil)
		for range queue {
			g.Tick(context.Background(), frame)
		}
		s := g.Session()
		for _, sample := range s.Samples {
			assert.LessOrEqual(t, matcher.Distance(s.Anchor(), sample.Embedding), 0.58)
		}
	})
}

func TestGate_RetainSeedsSupplementalRound(t *testing.T) {
	g := NewGate(&testutil.MarkerDetector{Scale: 0.3}, testGateConfig(), nil)
	kept := []Sample{{Embedding: testutil.Embedding(0, 0, 0.3)}, {Embedding: testutil.Embedding(0, 4, 0.3)}}
	g.Retain(kept)

	tr := g.Tick(context.Background(), face(testutil.FaceOptions{Index: 4}))
	assert.Equal(t, StateTooSimilar, tr.State, "retained samples take part in diversity")
	tr = g.Tick(context.Background(), face(testutil.FaceOptions{Index: 5}))
	assert.Equal(t, StateCaptured, tr.State)
	assert.Equal(t, 3, tr.Count)
}

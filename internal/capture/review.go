package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/quality"
)

// RemovalReason tags why review dropped a sample.
type RemovalReason string

const (
	RemovedDecode   RemovalReason = "decode"
	RemovedNoFace   RemovalReason = "no-face"
	RemovedOccluded RemovalReason = "occluded"
	RemovedBlurry   RemovalReason = "blurry"
	RemovedIdentity RemovalReason = "identity"
)

// removalOrder breaks ties when picking the primary reason.
var removalOrder = []RemovalReason{RemovedNoFace, RemovedIdentity, RemovedOccluded, RemovedBlurry, RemovedDecode}

// Batch blur parameters.
const (
	peakDecay       = 0.995
	lowPctFactor    = 0.55
	lowPctFloor     = 220.0
	peakFactor      = 0.72
	highPctFactor   = 0.64
	warmupThreshold = 180.0
	warmupMaxScored = 8
)

type ReviewConfig struct {
	Target              int
	StaticBlurThreshold float64
	AnchorCeiling       float64
	DecodeLimit         int
}

func ReviewConfigFrom(cfg config.CaptureConfig) ReviewConfig {
	return ReviewConfig{
		Target:              cfg.TargetCount,
		StaticBlurThreshold: cfg.ReviewBlurCeiling,
		AnchorCeiling:       cfg.AnchorCeiling,
		DecodeLimit:         cfg.ReviewDecodeLimit,
	}
}

// ReviewResult is a structured short count, never an error.
type ReviewResult struct {
	Descriptors    [][]float32
	Photos         [][]byte
	ReviewedCount  int
	RemovedCount   int
	Reasons        map[RemovalReason]int
	PrimaryReason  RemovalReason
	NeedsRecapture bool
}

// Reviewer re-validates a finished session from its stored photos.
type Reviewer struct {
	det    Detector
	cfg    ReviewConfig
	logger *slog.Logger
}

func NewReviewer(det Detector, cfg ReviewConfig, logger *slog.Logger) *Reviewer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DecodeLimit <= 0 {
		cfg.DecodeLimit = 4
	}
	return &Reviewer{det: det, cfg: cfg, logger: logger}
}

type inspected struct {
	decodeErr error
	detectErr error
	img       image.Image
	det       *models.FaceDetection
}

// Review decodes and re-detects every photo, then walks the samples in
// capture order applying occlusion, batch-adaptive blur and identity checks.
// anchor is the live session anchor; when nil the first kept sample anchors.
// The only error returned is ctx's.
func (r *Reviewer) Review(ctx context.Context, samples []Sample, anchor []float32) (*ReviewResult, error) {
	found, err := r.inspect(ctx, samples)
	if err != nil {
		return nil, err
	}

	res := &ReviewResult{
		ReviewedCount: len(samples),
		Reasons:       make(map[RemovalReason]int),
	}
	blur := newBatchBlur(r.cfg.StaticBlurThreshold)

	drop := func(i int, reason RemovalReason, attrs ...any) {
		res.Reasons[reason]++
		observability.ReviewRemovals.WithLabelValues(string(reason)).Inc()
		r.logger.Debug("review dropped sample", append([]any{"index", i, "reason", reason}, attrs...)...)
	}

	for i, f := range found {
		switch {
		case f.decodeErr != nil:
			drop(i, RemovedDecode, "error", f.decodeErr)
			continue
		case f.detectErr != nil:
			drop(i, RemovedNoFace, "error", f.detectErr)
			continue
		case f.det == nil:
			drop(i, RemovedNoFace)
			continue
		}

		if occ := quality.CheckOcclusion(f.img, f.det.Box, f.det.Landmarks); occ.Blocked {
			drop(i, RemovedOccluded, "occlusion", occ.Reason)
			continue
		}

		score := quality.Sharpness(f.img, boxRect(f.det.Box), quality.DefaultSharpnessOptions())
		if ok, threshold := blur.admit(score, len(res.Descriptors)); !ok {
			drop(i, RemovedBlurry, "sharpness", score, "threshold", threshold)
			continue
		}

		ref := anchor
		if ref == nil && len(res.Descriptors) > 0 {
			ref = res.Descriptors[0]
		}
		if ref != nil {
			if d := matcher.Distance(f.det.Embedding, ref); d > r.cfg.AnchorCeiling {
				drop(i, RemovedIdentity, "distance", d)
				continue
			}
		}

		emb := make([]float32, len(f.det.Embedding))
		copy(emb, f.det.Embedding)
		res.Descriptors = append(res.Descriptors, emb)
		res.Photos = append(res.Photos, samples[i].Photo)
	}

	if r.cfg.Target > 0 && len(res.Descriptors) > r.cfg.Target {
		res.Descriptors = res.Descriptors[:r.cfg.Target]
		res.Photos = res.Photos[:r.cfg.Target]
	}
	res.RemovedCount = res.ReviewedCount - len(res.Descriptors)
	res.PrimaryReason = primaryReason(res.Reasons)
	res.NeedsRecapture = len(res.Descriptors) < r.cfg.Target
	return res, nil
}

// inspect decodes and detects all photos concurrently, bounded by DecodeLimit.
func (r *Reviewer) inspect(ctx context.Context, samples []Sample) ([]inspected, error) {
	out := make([]inspected, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.DecodeLimit)

	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := jpeg.Decode(bytes.NewReader(samples[i].Photo))
			if err != nil {
				out[i].decodeErr = fmt.Errorf("decode photo %d: %w", i, err)
				return nil
			}
			out[i].img = img
			out[i].det, out[i].detectErr = r.det.Detect(gctx, img)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("review photos: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("review photos: %w", err)
	}
	return out, nil
}

// batchBlur tracks the sharpness distribution across a review pass.
type batchBlur struct {
	static float64
	peak   float64
	scores []float64
}

func newBatchBlur(static float64) *batchBlur {
	if static <= 0 {
		static = math.Inf(1)
	}
	return &batchBlur{static: static}
}

// admit records score and reports whether it clears the threshold derived
// from the scores seen so far, including this one.
func (b *batchBlur) admit(score float64, kept int) (bool, float64) {
	scoredBefore := len(b.scores)
	b.peak *= peakDecay
	b.scores = append(b.scores, score)

	low := math.Max(percentile(b.scores, 30)*lowPctFactor, lowPctFloor)
	high := math.Max(b.peak*peakFactor, percentile(b.scores, 75)*highPctFactor)
	threshold := math.Min(b.static, math.Max(low, high))
	if scoredBefore < warmupMaxScored && kept == 0 {
		threshold = math.Min(threshold, warmupThreshold)
	}

	b.peak = math.Max(b.peak, score)
	return score >= threshold, threshold
}

// percentile uses linear interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func primaryReason(reasons map[RemovalReason]int) RemovalReason {
	var best RemovalReason
	bestN := 0
	for _, r := range removalOrder {
		if n := reasons[r]; n > bestN {
			best, bestN = r, n
		}
	}
	return best
}

package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/quality"
)

// Detector runs face detection, landmarks and embedding on one frame.
// A nil detection with a nil error means no face.
type Detector interface {
	Detect(ctx context.Context, img image.Image) (*models.FaceDetection, error)
}

const sharpnessWindow = 3

const (
	HintNoFace          = "No face detected. Look at the camera."
	HintLowConfidence   = "Face not clear. Hold still and face the camera."
	HintBlurry          = "Image is blurry. Hold still."
	HintDifferentPerson = "Different person detected. Only the enrolling person should be in frame."
	HintTooSimilar      = "Turn your head slightly for a different angle."
	HintCaptured        = "Captured. Keep going."
	HintCompleted       = "Capture complete."
	HintDetectorError   = "Face detection unavailable. Retrying."
	HintPhotoError      = "Could not store the photo. Retrying."
)

var occlusionHints = map[string]string{
	quality.ReasonEyesCovered:      "Keep both eyes visible. Remove sunglasses or hands.",
	quality.ReasonMouthAbnormal:    "Keep your mouth relaxed and visible.",
	quality.ReasonLowerFaceCovered: "Remove anything covering your nose and mouth.",
}

type GateConfig struct {
	Target            int
	MinConfidence     float64
	BaseBlurThreshold float64
	AnchorCeiling     float64
	MinDiversityPct   float64
	PhotoQuality      int
}

func GateConfigFrom(cfg config.CaptureConfig) GateConfig {
	return GateConfig{
		Target:            cfg.TargetCount,
		MinConfidence:     cfg.MinConfidence,
		BaseBlurThreshold: cfg.BaseBlurThreshold,
		AnchorCeiling:     cfg.AnchorCeiling,
		MinDiversityPct:   cfg.MinDiversityPct,
		PhotoQuality:      cfg.PhotoQuality,
	}
}

// Gate decides per frame whether a capture is accepted into its session.
// It is the only writer of the session.
type Gate struct {
	det    Detector
	cfg    GateConfig
	logger *slog.Logger

	mu      sync.Mutex
	session Session
	sharp   []float64
	diag    Diagnostics
}

func NewGate(det Detector, cfg GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PhotoQuality <= 0 {
		cfg.PhotoQuality = 90
	}
	return &Gate{
		det:     det,
		cfg:     cfg,
		logger:  logger,
		session: Session{Target: cfg.Target},
	}
}

// Tick evaluates one frame. Every outcome, including detector failure, is
// expressed as a Transition.
func (g *Gate) Tick(ctx context.Context, frame image.Image) Transition {
	g.mu.Lock()
	defer g.mu.Unlock()

	tr := g.tick(ctx, frame)
	tr.Count = g.session.Len()
	tr.Target = g.session.Target
	tr.Diagnostics = g.diag
	observability.CaptureTicks.WithLabelValues(string(tr.State)).Inc()
	return tr
}

func (g *Gate) tick(ctx context.Context, frame image.Image) Transition {
	if g.session.Complete() {
		return Transition{State: StateCompleted, Hint: HintCompleted}
	}

	det, err := g.det.Detect(ctx, frame)
	if err != nil {
		g.logger.Warn("capture detection failed", "error", err)
		g.resetDiagnostics()
		return Transition{State: StateScanning, Hint: HintDetectorError, Reason: "detector"}
	}
	if det == nil {
		g.resetDiagnostics()
		return Transition{State: StateScanning, Hint: HintNoFace, Reason: "no-face"}
	}

	frameW := float64(frame.Bounds().Dx())
	g.diag = Diagnostics{
		FaceDetected:  true,
		Brightness:    quality.EstimateBrightness(frame),
		DistanceLevel: quality.ClassifyDistance(det.Box.Width(), frameW),
		Confidence:    det.Score,
	}
	g.diag.LightLevel = quality.ClassifyLight(g.diag.Brightness)

	if det.Score < g.cfg.MinConfidence {
		return Transition{State: StateLowConfidence, Hint: HintLowConfidence, Reason: "confidence"}
	}

	if occ := quality.CheckOcclusion(frame, det.Box, det.Landmarks); occ.Blocked {
		return Transition{State: StateLowConfidence, Hint: occlusionHint(occ.Reason), Reason: occ.Reason}
	}

	g.diag.Sharpness = g.smoothedSharpness(quality.Sharpness(frame, boxRect(det.Box), quality.DefaultSharpnessOptions()))
	threshold := g.cfg.BaseBlurThreshold * quality.BlurScale(g.diag.LightLevel)
	if g.diag.Sharpness < threshold {
		return Transition{State: StateBlurry, Hint: HintBlurry, Reason: "blurry"}
	}

	if anchor := g.session.Anchor(); anchor != nil {
		if matcher.Distance(det.Embedding, anchor) > g.cfg.AnchorCeiling {
			return Transition{State: StateLowConfidence, Hint: HintDifferentPerson, Reason: "identity"}
		}
		if diversityPct(g.session.Samples, det.Embedding) < g.cfg.MinDiversityPct {
			return Transition{State: StateTooSimilar, Hint: HintTooSimilar, Reason: "similar"}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: g.cfg.PhotoQuality}); err != nil {
		g.logger.Warn("capture photo encode failed", "error", err)
		return Transition{State: StateScanning, Hint: HintPhotoError, Reason: "encode"}
	}
	emb := make([]float32, len(det.Embedding))
	copy(emb, det.Embedding)
	g.session.Samples = append(g.session.Samples, Sample{Embedding: emb, Photo: buf.Bytes()})

	if g.session.Complete() {
		return Transition{State: StateCompleted, Hint: HintCompleted, Accepted: true}
	}
	return Transition{State: StateCaptured, Hint: HintCaptured, Accepted: true}
}

// Reset clears the session and the sharpness history.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = Session{Target: g.cfg.Target}
	g.resetDiagnostics()
}

// Retain replaces the session with samples that survived review so a
// supplemental round only captures what is missing.
func (g *Gate) Retain(samples []Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session = Session{Target: g.cfg.Target, Samples: append([]Sample(nil), samples...)}
	g.resetDiagnostics()
}

// Session returns a copy of the accepted samples.
func (g *Gate) Session() Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.clone()
}

func (g *Gate) Complete() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session.Complete()
}

func (g *Gate) resetDiagnostics() {
	g.diag = Diagnostics{}
	g.sharp = g.sharp[:0]
}

// smoothedSharpness pushes v into the rolling window and returns its mean.
func (g *Gate) smoothedSharpness(v float64) float64 {
	g.sharp = append(g.sharp, v)
	if len(g.sharp) > sharpnessWindow {
		g.sharp = g.sharp[len(g.sharp)-sharpnessWindow:]
	}
	var sum float64
	for _, s := range g.sharp {
		sum += s
	}
	return sum / float64(len(g.sharp))
}

// diversityPct is the distance to the nearest accepted sample on a 0-100 scale.
func diversityPct(samples []Sample, emb []float32) float64 {
	nearest := math.Inf(1)
	for _, s := range samples {
		nearest = math.Min(nearest, matcher.Distance(s.Embedding, emb))
	}
	return math.Max(0, math.Min(100, nearest*100))
}

func occlusionHint(reason string) string {
	first, _, _ := strings.Cut(reason, "+")
	if h, ok := occlusionHints[first]; ok {
		return h
	}
	return HintLowConfidence
}

func boxRect(b models.Box) image.Rectangle {
	return image.Rect(int(math.Floor(b.X1)), int(math.Floor(b.Y1)), int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)))
}

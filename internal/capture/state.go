// Package capture builds an enrollment descriptor set from live frames and
// re-validates it before it becomes a profile.
package capture

import (
	"errors"

	"github.com/your-org/attendance/internal/quality"
)

var ErrTickInFlight = errors.New("capture tick already in flight")

// FlowState is the coarse capture state shown to the user.
type FlowState string

const (
	StateScanning      FlowState = "SCANNING"
	StateLowConfidence FlowState = "LOW_CONFIDENCE"
	StateBlurry        FlowState = "BLURRY"
	StateTooSimilar    FlowState = "TOO_SIMILAR"
	StateCaptured      FlowState = "CAPTURED"
	StateCompleted     FlowState = "COMPLETED"
)

// Diagnostics is recomputed on every tick.
type Diagnostics struct {
	FaceDetected  bool          `json:"face_detected"`
	LightLevel    quality.Level `json:"light_level"`
	DistanceLevel quality.Level `json:"distance_level"`
	Brightness    float64       `json:"brightness"`
	Sharpness     float64       `json:"sharpness"`
	Confidence    float64       `json:"confidence"`
}

// Sample is one accepted capture: the live embedding and the JPEG it came from.
type Sample struct {
	Embedding []float32
	Photo     []byte
}

// Session is the ordered set of accepted samples. The first sample's
// embedding is the identity anchor.
type Session struct {
	Target  int
	Samples []Sample
}

func (s *Session) Len() int { return len(s.Samples) }

func (s *Session) Complete() bool { return s.Target > 0 && len(s.Samples) >= s.Target }

// Anchor returns nil for an empty session.
func (s *Session) Anchor() []float32 {
	if len(s.Samples) == 0 {
		return nil
	}
	return s.Samples[0].Embedding
}

func (s *Session) clone() Session {
	out := Session{Target: s.Target, Samples: make([]Sample, len(s.Samples))}
	copy(out.Samples, s.Samples)
	return out
}

// Transition is the result of one gate tick.
type Transition struct {
	State       FlowState   `json:"state"`
	Hint        string      `json:"hint"`
	Reason      string      `json:"reason,omitempty"`
	Accepted    bool        `json:"accepted"`
	Count       int         `json:"count"`
	Target      int         `json:"target"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

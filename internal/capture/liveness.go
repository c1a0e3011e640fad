package capture

import (
	"time"

	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
)

const (
	LivenessMethod      = "passive-embedding-variation"
	livenessMinMovement = 0.05
	livenessMinConsist  = 0.9
)

// Attest runs a passive liveness check over accepted embeddings: a live
// subject moves between frames (mean step distance) while staying the same
// person (share of samples within ceiling of the mean). A replayed still
// image fails the movement test.
func Attest(embeddings [][]float32, ceiling float64, now time.Time) models.LivenessAttestation {
	att := models.LivenessAttestation{Method: LivenessMethod, CheckedAt: now}
	if len(embeddings) < 2 {
		return att
	}

	var steps float64
	for i := 1; i < len(embeddings); i++ {
		steps += matcher.Distance(embeddings[i-1], embeddings[i])
	}
	att.Movement = steps / float64(len(embeddings)-1)

	mean := matcher.MeanDescriptor(embeddings)
	within := 0
	for _, e := range embeddings {
		if matcher.Distance(e, mean) <= ceiling {
			within++
		}
	}
	att.Consistency = float64(within) / float64(len(embeddings))
	att.Passed = att.Movement >= livenessMinMovement && att.Consistency >= livenessMinConsist
	return att
}

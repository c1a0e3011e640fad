// Package guard keeps attendance attempts from double-recording.
package guard

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
)

// LatestEventFinder is the slice of the event repository the cooldown needs.
type LatestEventFinder interface {
	LatestByAction(ctx context.Context, action models.Action, staffID string) (*models.AttendanceEvent, error)
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed      bool
	RemainingSec int
	Blocking     *models.AttendanceEvent
}

type Cooldown struct {
	events LatestEventFinder
	clock  clock.Clock
}

func NewCooldown(events LatestEventFinder, clk clock.Clock) *Cooldown {
	if clk == nil {
		clk = clock.System{}
	}
	return &Cooldown{events: events, clock: clk}
}

// Check allows action when the most recent event of the same action (scoped
// to staffID if set) is at least window old. Otherwise it reports the whole
// seconds left, rounded up.
func (c *Cooldown) Check(ctx context.Context, action models.Action, staffID string, window time.Duration) (Decision, error) {
	if window <= 0 {
		return Decision{Allowed: true}, nil
	}

	last, err := c.events.LatestByAction(ctx, action, staffID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Decision{Allowed: true}, nil
		}
		return Decision{}, fmt.Errorf("check cooldown: %w", err)
	}

	elapsed := c.clock.Now().Sub(last.ClientTimestamp)
	if elapsed >= window {
		return Decision{Allowed: true}, nil
	}
	return Decision{
		RemainingSec: int(math.Ceil((window - elapsed).Seconds())),
		Blocking:     last,
	}, nil
}

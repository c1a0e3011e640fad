package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const HintWaitingForCamera = "Waiting for camera."

// Loop ticks a Gate at a fixed interval until its session is complete.
type Loop struct {
	gate     *Gate
	frames   FrameSource
	interval time.Duration
	notify   func(Transition)

	inFlight atomic.Bool

	mu     sync.Mutex
	paused bool
	last   Transition
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithTransitionHook registers fn to observe every tick outcome.
func WithTransitionHook(fn func(Transition)) LoopOption {
	return func(l *Loop) { l.notify = fn }
}

func NewLoop(gate *Gate, frames FrameSource, interval time.Duration, opts ...LoopOption) *Loop {
	l := &Loop{
		gate:     gate,
		frames:   frames,
		interval: interval,
		last:     Transition{State: StateScanning, Target: gate.cfg.Target},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run waits one interval, ticks, and repeats until the session completes
// (nil) or ctx is done (ctx.Err()). Paused intervals are skipped. After
// Reset the caller starts Run again.
func (l *Loop) Run(ctx context.Context) error {
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for !l.gate.Complete() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if !l.Paused() {
			// A tick still in flight from a direct Step call is skipped.
			_, _ = l.Step(ctx)
		}
		timer.Reset(l.interval)
	}
	return nil
}

// Step runs a single tick. Only one tick runs at a time per loop; a
// concurrent call returns ErrTickInFlight.
func (l *Loop) Step(ctx context.Context) (Transition, error) {
	if !l.inFlight.CompareAndSwap(false, true) {
		return Transition{}, ErrTickInFlight
	}
	defer l.inFlight.Store(false)

	var tr Transition
	if frame, ok := l.frames.LatestFrame(); ok {
		tr = l.gate.Tick(ctx, frame)
	} else {
		s := l.gate.Session()
		tr = Transition{State: StateScanning, Hint: HintWaitingForCamera, Count: s.Len(), Target: s.Target}
		if s.Complete() {
			tr.State, tr.Hint = StateCompleted, HintCompleted
		}
	}

	l.mu.Lock()
	l.last = tr
	l.mu.Unlock()
	if l.notify != nil {
		l.notify(tr)
	}
	return tr, nil
}

// Pause stops ticking without touching accepted samples.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
}

func (l *Loop) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
}

func (l *Loop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// Reset clears the session and unpauses.
func (l *Loop) Reset() {
	l.gate.Reset()
	l.mu.Lock()
	l.paused = false
	l.last = Transition{State: StateScanning, Target: l.gate.cfg.Target}
	l.mu.Unlock()
}

// Last returns the most recent tick outcome.
func (l *Loop) Last() Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

func (l *Loop) Gate() *Gate { return l.gate }

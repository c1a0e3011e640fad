// Package enroll runs capture sessions and turns reviewed sessions into
// enrollment profiles.
package enroll

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/capture"
	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
)

var (
	ErrSessionNotFound   = errors.New("capture session not found")
	ErrSessionActive     = errors.New("staff member already has a capture session")
	ErrSessionIncomplete = errors.New("capture session has not reached its target")
	ErrProfileLocked     = errors.New("profile is locked")
	ErrInvalidTransition = errors.New("invalid profile status transition")
)

// Update is pushed for every capture tick.
type Update struct {
	SessionID  string             `json:"session_id"`
	StaffID    string             `json:"staff_id"`
	Transition capture.Transition `json:"transition"`
}

type Status struct {
	SessionID   string              `json:"session_id"`
	StaffID     string              `json:"staff_id"`
	State       capture.FlowState   `json:"state"`
	Hint        string              `json:"hint"`
	Count       int                 `json:"count"`
	Target      int                 `json:"target"`
	Paused      bool                `json:"paused"`
	Running     bool                `json:"running"`
	Dropped     uint64              `json:"dropped_frames"`
	Diagnostics capture.Diagnostics `json:"diagnostics"`
	StartedAt   time.Time           `json:"started_at"`
}

// FinalizeResult carries the review outcome. Profile is nil when the review
// kept fewer samples than the target; the session then continues capturing.
type FinalizeResult struct {
	Review  *capture.ReviewResult
	Profile *models.EnrollmentProfile
}

type Options struct {
	Gate        capture.GateConfig
	Review      capture.ReviewConfig
	Interval    time.Duration
	IdleTimeout time.Duration
}

func OptionsFrom(cfg config.CaptureConfig) Options {
	return Options{
		Gate:        capture.GateConfigFrom(cfg),
		Review:      capture.ReviewConfigFrom(cfg),
		Interval:    cfg.Interval,
		IdleTimeout: cfg.SessionIdleTimeout,
	}
}

type session struct {
	id        string
	staffID   string
	mailbox   *capture.Mailbox
	loop      *capture.Loop
	startedAt time.Time

	mu      sync.Mutex
	touched time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the live capture sessions of this device.
type Manager struct {
	det      capture.Detector
	reviewer *capture.Reviewer
	profiles *storage.ProfileRepository
	index    storage.DescriptorIndex
	blobs    storage.BlobStore
	clock    clock.Clock
	notify   func(Update)
	logger   *slog.Logger
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session
	byStaff  map[string]string
}

type Option func(*Manager)

func WithDescriptorIndex(ix storage.DescriptorIndex) Option {
	return func(m *Manager) { m.index = ix }
}

func WithBlobStore(b storage.BlobStore) Option {
	return func(m *Manager) { m.blobs = b }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithNotifier(fn func(Update)) Option {
	return func(m *Manager) { m.notify = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(det capture.Detector, profiles *storage.ProfileRepository, opts Options, options ...Option) *Manager {
	m := &Manager{
		det:      det,
		profiles: profiles,
		clock:    clock.System{},
		logger:   slog.Default(),
		opts:     opts,
		sessions: make(map[string]*session),
		byStaff:  make(map[string]string),
	}
	for _, o := range options {
		o(m)
	}
	m.reviewer = capture.NewReviewer(det, opts.Review, m.logger)
	return m
}

// Start opens a capture session for staffID and begins ticking.
func (m *Manager) Start(ctx context.Context, staffID string) (Status, error) {
	if staffID == "" {
		return Status{}, fmt.Errorf("start capture: empty staff id")
	}
	existing, err := m.profiles.Load(ctx, staffID)
	switch {
	case err == nil && existing.Status == models.ProfileLocked:
		return Status{}, fmt.Errorf("start capture for %s: %w", staffID, ErrProfileLocked)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return Status{}, fmt.Errorf("start capture: %w", err)
	}

	m.mu.Lock()
	if id, ok := m.byStaff[staffID]; ok {
		m.mu.Unlock()
		return Status{}, fmt.Errorf("start capture for %s (session %s): %w", staffID, id, ErrSessionActive)
	}

	now := m.clock.Now()
	s := &session{
		id:        uuid.New().String(),
		staffID:   staffID,
		mailbox:   capture.NewMailbox(),
		startedAt: now,
		touched:   now,
	}
	gate := capture.NewGate(m.det, m.opts.Gate, m.logger.With("staff_id", staffID))
	s.loop = capture.NewLoop(gate, s.mailbox, m.opts.Interval, capture.WithTransitionHook(func(tr capture.Transition) {
		if m.notify != nil {
			m.notify(Update{SessionID: s.id, StaffID: staffID, Transition: tr})
		}
	}))
	m.sessions[s.id] = s
	m.byStaff[staffID] = s.id
	m.mu.Unlock()

	observability.ActiveCaptureSessions.Inc()
	m.logger.Info("capture session started", "session_id", s.id, "staff_id", staffID)
	m.run(s)
	return m.status(s), nil
}

// run (re)starts the loop goroutine. A previous goroutine is stopped and
// waited for first, so exactly one drives the loop afterwards even when the
// old one was already on its way out.
func (m *Manager) run(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done

	go func() {
		defer close(done)
		if err := s.loop.Run(ctx); err == nil {
			m.logger.Info("capture target reached", "session_id", s.id, "staff_id", s.staffID)
		}
	}()
}

// running reports whether the loop goroutine is still live. s.mu must be held.
func (s *session) running() bool {
	if s.done == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (m *Manager) get(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	s.mu.Lock()
	s.touched = m.clock.Now()
	s.mu.Unlock()
	return s, nil
}

// PushFrame hands a camera frame to the session. Only the newest frame is
// kept between ticks.
func (m *Manager) PushFrame(sessionID string, frame image.Image) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mailbox.Put(frame)
	return nil
}

func (m *Manager) Pause(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.loop.Pause()
	return nil
}

func (m *Manager) Resume(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.loop.Resume()
	return nil
}

// Reset discards accepted samples and re-arms the loop.
func (m *Manager) Reset(sessionID string) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.loop.Reset()
	m.run(s)
	return nil
}

func (m *Manager) Status(sessionID string) (Status, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return Status{}, err
	}
	return m.status(s), nil
}

func (m *Manager) status(s *session) Status {
	last := s.loop.Last()
	sess := s.loop.Gate().Session()
	s.mu.Lock()
	running := s.running()
	s.mu.Unlock()
	return Status{
		SessionID:   s.id,
		StaffID:     s.staffID,
		State:       last.State,
		Hint:        last.Hint,
		Count:       sess.Len(),
		Target:      sess.Target,
		Paused:      s.loop.Paused(),
		Running:     running,
		Dropped:     s.mailbox.Dropped(),
		Diagnostics: last.Diagnostics,
		StartedAt:   s.startedAt,
	}
}

// Cancel stops and forgets a session without saving anything.
func (m *Manager) Cancel(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		delete(m.byStaff, s.staffID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	observability.ActiveCaptureSessions.Dec()
	m.logger.Info("capture session closed", "session_id", sessionID, "staff_id", s.staffID)
	return nil
}

// Sweep closes sessions idle for longer than the configured timeout.
func (m *Manager) Sweep() int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	now := m.clock.Now()
	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		if now.Sub(s.touched) > m.opts.IdleTimeout {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, id := range idle {
		_ = m.Cancel(id)
	}
	return len(idle)
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("closed idle capture sessions", "count", n)
			}
		}
	}
}

package enroll

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/attendance/internal/capture"
	"github.com/your-org/attendance/internal/matcher"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
)

// Finalize reviews a completed session. A short review keeps the surviving
// samples in the session and resumes capturing; a full one writes the
// profile and closes the session. Without consent the profile is stored as
// PENDING_CONSENT and does not take part in matching.
func (m *Manager) Finalize(ctx context.Context, sessionID string, consent bool) (*FinalizeResult, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	gate := s.loop.Gate()
	sess := gate.Session()
	if !sess.Complete() {
		return nil, fmt.Errorf("finalize %s (%d/%d): %w", sessionID, sess.Len(), sess.Target, ErrSessionIncomplete)
	}

	review, err := m.reviewer.Review(ctx, sess.Samples, sess.Anchor())
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", sessionID, err)
	}
	log := m.logger.With("session_id", sessionID, "staff_id", s.staffID)

	if review.NeedsRecapture {
		kept := make([]capture.Sample, len(review.Descriptors))
		for i := range kept {
			kept[i] = capture.Sample{Embedding: review.Descriptors[i], Photo: review.Photos[i]}
		}
		gate.Retain(kept)
		m.run(s)
		log.Info("review short, supplemental capture started",
			"kept", len(kept), "removed", review.RemovedCount, "primary_reason", review.PrimaryReason)
		return &FinalizeResult{Review: review}, nil
	}

	previous, err := m.profiles.Load(ctx, s.staffID)
	switch {
	case err == nil && previous.Status == models.ProfileLocked:
		return nil, fmt.Errorf("finalize %s: %w", sessionID, ErrProfileLocked)
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("finalize %s: %w", sessionID, err)
	}

	now := m.clock.Now()
	profile := &models.EnrollmentProfile{
		StaffID:        s.staffID,
		Descriptors:    review.Descriptors,
		MeanDescriptor: matcher.MeanDescriptor(review.Descriptors),
		Liveness:       capture.Attest(review.Descriptors, m.opts.Gate.AnchorCeiling, now),
		Status:         models.ProfilePendingConsent,
		EnrolledAt:     now,
		UpdatedAt:      now,
	}
	if consent {
		profile.Status = models.ProfileActive
		profile.ConsentAt = &now
	}

	keys, err := m.uploadPhotos(ctx, s, review.Photos)
	if err != nil {
		return nil, fmt.Errorf("finalize %s: %w", sessionID, err)
	}
	profile.PhotoKeys = keys

	if err := m.profiles.Upsert(ctx, profile); err != nil {
		return nil, fmt.Errorf("finalize %s: %w", sessionID, err)
	}
	m.syncIndex(ctx, profile)
	if previous != nil {
		m.deletePhotos(ctx, previous.PhotoKeys)
	}

	log.Info("enrollment profile saved",
		"status", profile.Status, "descriptors", len(profile.Descriptors), "liveness", profile.Liveness.Passed)
	_ = m.Cancel(sessionID)
	return &FinalizeResult{Review: review, Profile: profile}, nil
}

// ConfirmConsent activates a PENDING_CONSENT profile.
func (m *Manager) ConfirmConsent(ctx context.Context, staffID string) (*models.EnrollmentProfile, error) {
	now := m.clock.Now()
	p, err := m.profiles.UpdateStatus(ctx, staffID, models.ProfileActive, func(p *models.EnrollmentProfile) error {
		if p.Status != models.ProfilePendingConsent || len(p.Descriptors) == 0 {
			return fmt.Errorf("confirm consent for %s in %s: %w", staffID, p.Status, ErrInvalidTransition)
		}
		p.ConsentAt = &now
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("confirm consent for %s: %w", staffID, err)
	}
	m.syncIndex(ctx, p)
	return p, nil
}

// RequireReset takes a profile out of matching until the staff member re-enrolls.
func (m *Manager) RequireReset(ctx context.Context, staffID string) (*models.EnrollmentProfile, error) {
	return m.setStatus(ctx, staffID, models.ProfileResetRequired)
}

// Lock blocks a profile from matching and from re-enrollment.
func (m *Manager) Lock(ctx context.Context, staffID string) (*models.EnrollmentProfile, error) {
	return m.setStatus(ctx, staffID, models.ProfileLocked)
}

func (m *Manager) setStatus(ctx context.Context, staffID string, status models.ProfileStatus) (*models.EnrollmentProfile, error) {
	now := m.clock.Now()
	p, err := m.profiles.UpdateStatus(ctx, staffID, status, func(p *models.EnrollmentProfile) error {
		if p.Status == models.ProfileLocked && status != models.ProfileLocked {
			return fmt.Errorf("set %s to %s: %w", staffID, status, ErrProfileLocked)
		}
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrProfileLocked) || errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("set %s to %s: %w", staffID, status, err)
	}
	m.syncIndex(ctx, p)
	return p, nil
}

// syncIndex keeps the descriptor index in step with matchable profiles.
// Index failures are logged; the profile store stays authoritative.
func (m *Manager) syncIndex(ctx context.Context, p *models.EnrollmentProfile) {
	if m.index == nil {
		return
	}
	var err error
	if p.Usable() {
		err = m.index.IndexDescriptors(ctx, p.StaffID, p.Descriptors)
	} else {
		err = m.index.RemoveDescriptors(ctx, p.StaffID)
	}
	if err != nil {
		m.logger.Warn("descriptor index update failed", "staff_id", p.StaffID, "error", err)
	}
}

func (m *Manager) uploadPhotos(ctx context.Context, s *session, photos [][]byte) ([]string, error) {
	if m.blobs == nil {
		return nil, nil
	}
	keys := make([]string, 0, len(photos))
	for i, p := range photos {
		key := fmt.Sprintf("enrollment/%s/%s/%02d.jpg", s.staffID, s.id, i)
		if err := m.blobs.PutObject(ctx, key, p, "image/jpeg"); err != nil {
			m.deletePhotos(ctx, keys)
			return nil, fmt.Errorf("upload enrollment photo: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (m *Manager) deletePhotos(ctx context.Context, keys []string) {
	if m.blobs == nil || len(keys) == 0 {
		return
	}
	if err := m.blobs.DeleteObjects(ctx, keys); err != nil {
		m.logger.Warn("delete enrollment photos failed", "count", len(keys), "error", err)
	}
}

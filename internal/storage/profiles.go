package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/your-org/attendance/internal/models"
)

const (
	profilePrefix = "profile:"
	kindProfile   = "enrollment_profile"
)

func ProfileDocID(staffID string) string { return profilePrefix + staffID }

// ProfileRepository maps EnrollmentProfile onto a DocumentStore.
// Writes are compare-and-swap on Rev; a conflict is always returned as
// ErrConflict, never folded into success.
type ProfileRepository struct {
	docs DocumentStore
}

func NewProfileRepository(docs DocumentStore) *ProfileRepository {
	return &ProfileRepository{docs: docs}
}

func (r *ProfileRepository) Load(ctx context.Context, staffID string) (*models.EnrollmentProfile, error) {
	doc, err := r.docs.Get(ctx, ProfileDocID(staffID))
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", staffID, err)
	}
	return decodeProfile(*doc)
}

// Save inserts when p.Rev is 0 and otherwise updates the revision p was loaded at.
// On success p.Rev holds the new revision.
func (r *ProfileRepository) Save(ctx context.Context, p *models.EnrollmentProfile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}
	rev, err := r.docs.Put(ctx, Document{
		ID:        ProfileDocID(p.StaffID),
		Rev:       p.Rev,
		Kind:      kindProfile,
		Body:      body,
		UpdatedAt: p.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.StaffID, err)
	}
	p.Rev = rev
	return nil
}

// Upsert writes p over whatever revision is currently stored, or inserts it.
// A concurrent writer between the read and the write still yields ErrConflict.
func (r *ProfileRepository) Upsert(ctx context.Context, p *models.EnrollmentProfile) error {
	existing, err := r.Load(ctx, p.StaffID)
	switch {
	case err == nil:
		p.Rev = existing.Rev
		if p.EnrolledAt.IsZero() {
			p.EnrolledAt = existing.EnrolledAt
		}
	case errors.Is(err, ErrNotFound):
		p.Rev = 0
	default:
		return err
	}
	return r.Save(ctx, p)
}

func (r *ProfileRepository) List(ctx context.Context) ([]models.EnrollmentProfile, error) {
	docs, err := r.docs.AllDocs(ctx, profilePrefix)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]models.EnrollmentProfile, 0, len(docs))
	for _, d := range docs {
		p, err := decodeProfile(d)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// ListActive returns profiles that may take part in matching.
func (r *ProfileRepository) ListActive(ctx context.Context) ([]models.EnrollmentProfile, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for i := range all {
		if all[i].Usable() {
			active = append(active, all[i])
		}
	}
	return active, nil
}

// UpdateStatus changes a profile's status in a single CAS write. mutate sees
// the stored profile before the change and aborts the update by returning an
// error, which is passed through unwrapped.
func (r *ProfileRepository) UpdateStatus(ctx context.Context, staffID string, status models.ProfileStatus, mutate func(*models.EnrollmentProfile) error) (*models.EnrollmentProfile, error) {
	p, err := r.Load(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(p); err != nil {
			return nil, err
		}
	}
	p.Status = status
	if err := r.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeProfile(d Document) (*models.EnrollmentProfile, error) {
	var p models.EnrollmentProfile
	if err := json.Unmarshal(d.Body, &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", d.ID, err)
	}
	if p.StaffID == "" {
		p.StaffID = strings.TrimPrefix(d.ID, profilePrefix)
	}
	p.Rev = d.Rev
	return &p, nil
}

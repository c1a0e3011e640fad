package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/your-org/attendance/internal/models"
)

const (
	eventPrefix = "event:"
	kindEvent   = "attendance_event"
)

func EventDocID(eventID string) string { return eventPrefix + eventID }

// EventFilter narrows List. Zero values match everything.
type EventFilter struct {
	StaffID    string
	Action     models.Action
	SyncStates []models.SyncState
	Limit      int
}

func (f EventFilter) match(e *models.AttendanceEvent) bool {
	if f.StaffID != "" && e.StaffID != f.StaffID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if len(f.SyncStates) > 0 {
		for _, s := range f.SyncStates {
			if e.SyncState == s {
				return true
			}
		}
		return false
	}
	return true
}

// EventRepository stores append-only attendance events.
type EventRepository struct {
	docs DocumentStore
}

func NewEventRepository(docs DocumentStore) *EventRepository {
	return &EventRepository{docs: docs}
}

// Insert writes a new event keyed by its EventID. Writing an id that already
// exists returns ErrDuplicate and leaves the stored event untouched.
func (r *EventRepository) Insert(ctx context.Context, e *models.AttendanceEvent) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	rev, err := r.docs.Put(ctx, Document{
		ID:        EventDocID(e.EventID),
		Kind:      kindEvent,
		Body:      body,
		UpdatedAt: e.ClientTimestamp,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return fmt.Errorf("insert event %s: %w", e.EventID, ErrDuplicate)
		}
		return fmt.Errorf("insert event %s: %w", e.EventID, err)
	}
	e.Rev = rev
	return nil
}

func (r *EventRepository) Get(ctx context.Context, eventID string) (*models.AttendanceEvent, error) {
	doc, err := r.docs.Get(ctx, EventDocID(eventID))
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventID, err)
	}
	return decodeEvent(*doc)
}

// UpdateSync writes the sync fields of e at the revision it was read at.
// Everything else in the stored event is kept as it was.
func (r *EventRepository) UpdateSync(ctx context.Context, e *models.AttendanceEvent) error {
	stored, err := r.Get(ctx, e.EventID)
	if err != nil {
		return err
	}
	if stored.Rev != e.Rev {
		return fmt.Errorf("update event %s at rev %d: %w", e.EventID, e.Rev, ErrConflict)
	}
	stored.SyncState = e.SyncState
	stored.ServerTimestamp = e.ServerTimestamp
	stored.EvidenceKey = e.EvidenceKey

	body, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	rev, err := r.docs.Put(ctx, Document{
		ID:   EventDocID(e.EventID),
		Rev:  e.Rev,
		Kind: kindEvent,
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("update event %s: %w", e.EventID, err)
	}
	e.Rev = rev
	return nil
}

// List returns matching events, newest client timestamp first.
func (r *EventRepository) List(ctx context.Context, f EventFilter) ([]models.AttendanceEvent, error) {
	docs, err := r.docs.AllDocs(ctx, eventPrefix)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]models.AttendanceEvent, 0, len(docs))
	for _, d := range docs {
		e, err := decodeEvent(d)
		if err != nil {
			return nil, err
		}
		if f.match(e) {
			out = append(out, *e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ClientTimestamp.After(out[j].ClientTimestamp)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Pending returns events still waiting for replication, oldest first.
func (r *EventRepository) Pending(ctx context.Context, limit int) ([]models.AttendanceEvent, error) {
	out, err := r.List(ctx, EventFilter{SyncStates: []models.SyncState{models.SyncLocalOnly, models.SyncFailed}})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReclaimSyncing moves every SYNCING event back to FAILED so the next pass
// picks it up again. Events changed concurrently are left alone. It returns
// how many events were reclaimed.
func (r *EventRepository) ReclaimSyncing(ctx context.Context) (int, error) {
	stuck, err := r.List(ctx, EventFilter{SyncStates: []models.SyncState{models.SyncSyncing}})
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range stuck {
		e := &stuck[i]
		e.SyncState = models.SyncFailed
		if err := r.UpdateSync(ctx, e); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return n, fmt.Errorf("reclaim event %s: %w", e.EventID, err)
		}
		n++
	}
	return n, nil
}

// LatestByAction returns the most recent event for action, optionally scoped
// to one staff member. ErrNotFound when there is none.
func (r *EventRepository) LatestByAction(ctx context.Context, action models.Action, staffID string) (*models.AttendanceEvent, error) {
	events, err := r.List(ctx, EventFilter{Action: action, StaffID: staffID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("latest %s event: %w", action, ErrNotFound)
	}
	return &events[0], nil
}

func decodeEvent(d Document) (*models.AttendanceEvent, error) {
	var e models.AttendanceEvent
	if err := json.Unmarshal(d.Body, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", d.ID, err)
	}
	e.Rev = d.Rev
	return &e, nil
}

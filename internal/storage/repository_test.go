package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/models"
)

func newEvent(id, staff string, action models.Action, at time.Time) *models.AttendanceEvent {
	return &models.AttendanceEvent{
		EventID:         id,
		StaffID:         staff,
		Action:          action,
		ClientTimestamp: at,
		SyncState:       models.SyncLocalOnly,
		Geofence:        models.GeofenceResult{Status: models.GeofenceInside},
	}
}

func TestEventRepository_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	docs := NewMemoryStore()
	repo := NewEventRepository(docs)
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, newEvent("e1", "s1", models.ActionIn, at)))

	err := repo.Insert(ctx, newEvent("e1", "s1", models.ActionIn, at.Add(time.Minute)))
	require.ErrorIs(t, err, ErrDuplicate)

	all, err := docs.AllDocs(ctx, "event:")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	stored, err := repo.Get(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, stored.ClientTimestamp.Equal(at))
}

func TestEventRepository_LatestByAction(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(NewMemoryStore())
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, newEvent("a", "s1", models.ActionIn, t0)))
	require.NoError(t, repo.Insert(ctx, newEvent("b", "s2", models.ActionIn, t0.Add(time.Hour))))
	require.NoError(t, repo.Insert(ctx, newEvent("c", "s1", models.ActionOut, t0.Add(2*time.Hour))))

	latest, err := repo.LatestByAction(ctx, models.ActionIn, "")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.EventID)

	latest, err = repo.LatestByAction(ctx, models.ActionIn, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", latest.EventID)

	_, err = repo.LatestByAction(ctx, models.ActionOut, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventRepository_UpdateSync(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(NewMemoryStore())
	e := newEvent("e1", "s1", models.ActionIn, time.Now())
	require.NoError(t, repo.Insert(ctx, e))

	stale := *e
	e.SyncState = models.SyncSyncing
	require.NoError(t, repo.UpdateSync(ctx, e))
	assert.Equal(t, int64(2), e.Rev)

	stale.SyncState = models.SyncFailed
	assert.ErrorIs(t, repo.UpdateSync(ctx, &stale), ErrConflict)

	pending, err := repo.List(ctx, EventFilter{SyncStates: []models.SyncState{models.SyncSyncing}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "s1", pending[0].StaffID)
}

func TestEventRepository_ListNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(NewMemoryStore())
	t0 := time.Now()
	for i, id := range []string{"x", "y", "z"} {
		require.NoError(t, repo.Insert(ctx, newEvent(id, "s", models.ActionIn, t0.Add(time.Duration(i)*time.Minute))))
	}
	got, err := repo.List(ctx, EventFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "z", got[0].EventID)
	assert.Equal(t, "y", got[1].EventID)
}

func TestEventRepository_PendingOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(NewMemoryStore())
	t0 := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, repo.Insert(ctx, newEvent(id, "s", models.ActionIn, t0.Add(time.Duration(i)*time.Minute))))
	}

	synced, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	synced.SyncState = models.SyncSynced
	require.NoError(t, repo.UpdateSync(ctx, synced))

	failed, err := repo.Get(ctx, "c")
	require.NoError(t, err)
	failed.SyncState = models.SyncFailed
	require.NoError(t, repo.UpdateSync(ctx, failed))

	got, err := repo.Pending(ctx, 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, e := range got {
		ids = append(ids, e.EventID)
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)

	got, err = repo.Pending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].EventID)
}

func TestEventRepository_ReclaimSyncing(t *testing.T) {
	ctx := context.Background()
	repo := NewEventRepository(NewMemoryStore())
	t0 := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, repo.Insert(ctx, newEvent(id, "s", models.ActionIn, t0.Add(time.Duration(i)*time.Minute))))
	}
	for id, state := range map[string]models.SyncState{"a": models.SyncSyncing, "b": models.SyncSynced} {
		e, err := repo.Get(ctx, id)
		require.NoError(t, err)
		e.SyncState = state
		require.NoError(t, repo.UpdateSync(ctx, e))
	}

	n, err := repo.ReclaimSyncing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, a.SyncState)
	b, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, b.SyncState)

	n, err = repo.ReclaimSyncing(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProfileRepository_SaveConflictIsNotSwallowed(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(NewMemoryStore())

	p := &models.EnrollmentProfile{StaffID: "s1", Status: models.ProfileActive, Descriptors: [][]float32{{1, 2}}}
	require.NoError(t, repo.Save(ctx, p))
	assert.Equal(t, int64(1), p.Rev)

	dup := &models.EnrollmentProfile{StaffID: "s1", Status: models.ProfileActive}
	assert.ErrorIs(t, repo.Save(ctx, dup), ErrConflict)
	assert.NotErrorIs(t, repo.Save(ctx, dup), ErrDuplicate)

	loaded, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	loaded.Status = models.ProfileLocked
	require.NoError(t, repo.Save(ctx, loaded))

	p.Status = models.ProfileResetRequired
	assert.ErrorIs(t, repo.Save(ctx, p), ErrConflict, "stale revision")
}

func TestProfileRepository_UpsertAndListActive(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(NewMemoryStore())

	require.NoError(t, repo.Upsert(ctx, &models.EnrollmentProfile{
		StaffID: "a", Status: models.ProfileActive, Descriptors: [][]float32{{1}},
	}))
	require.NoError(t, repo.Upsert(ctx, &models.EnrollmentProfile{
		StaffID: "b", Status: models.ProfilePendingConsent, Descriptors: [][]float32{{1}},
	}))
	require.NoError(t, repo.Upsert(ctx, &models.EnrollmentProfile{
		StaffID: "c", Status: models.ProfileActive,
	}))
	// Re-enrolment overwrites at the current revision.
	require.NoError(t, repo.Upsert(ctx, &models.EnrollmentProfile{
		StaffID: "b", Status: models.ProfileActive, Descriptors: [][]float32{{2}},
	}))

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	ids := []string{}
	for _, p := range active {
		ids = append(ids, p.StaffID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestProfileRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepository(NewMemoryStore())
	require.NoError(t, repo.Save(ctx, &models.EnrollmentProfile{StaffID: "a", Status: models.ProfilePendingConsent}))

	consent := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p, err := repo.UpdateStatus(ctx, "a", models.ProfileActive, func(p *models.EnrollmentProfile) error {
		assert.Equal(t, models.ProfilePendingConsent, p.Status)
		p.ConsentAt = &consent
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProfileActive, p.Status)
	assert.Equal(t, int64(2), p.Rev)

	veto := errors.New("locked")
	_, err = repo.UpdateStatus(ctx, "a", models.ProfileLocked, func(*models.EnrollmentProfile) error { return veto })
	assert.ErrorIs(t, err, veto)
	stored, err := repo.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.ProfileActive, stored.Status)
	assert.Equal(t, int64(2), stored.Rev)

	_, err = repo.UpdateStatus(ctx, "missing", models.ProfileLocked, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlobStore()
	require.NoError(t, s.PutObject(ctx, "enrollment/a/1.jpg", []byte{1}, "image/jpeg"))
	require.NoError(t, s.PutObject(ctx, "enrollment/a/0.jpg", []byte{0}, "image/jpeg"))
	require.NoError(t, s.PutObject(ctx, "evidence/x.jpg", []byte{9}, "image/jpeg"))

	keys, err := s.ListObjects(ctx, "enrollment/a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"enrollment/a/0.jpg", "enrollment/a/1.jpg"}, keys)

	require.NoError(t, s.DeleteObjects(ctx, keys))
	_, err = s.GetObject(ctx, "enrollment/a/0.jpg")
	assert.ErrorIs(t, err, ErrNotFound)

	b, err := s.GetObject(ctx, "evidence/x.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, b)
}

func TestMemoryIndex_NearestStaff(t *testing.T) {
	ctx := context.Background()
	ix := NewMemoryIndex()
	require.NoError(t, ix.IndexDescriptors(ctx, "far", [][]float32{{10, 10}}))
	require.NoError(t, ix.IndexDescriptors(ctx, "near", [][]float32{{5, 5}, {1, 0}}))
	require.NoError(t, ix.IndexDescriptors(ctx, "mid", [][]float32{{3, 0}}))

	got, err := ix.NearestStaff(ctx, []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].StaffID)
	assert.InDelta(t, 1, got[0].Distance, 1e-9)
	assert.Equal(t, "mid", got[1].StaffID)

	require.NoError(t, ix.RemoveDescriptors(ctx, "near"))
	got, err = ix.NearestStaff(ctx, []float32{0, 0}, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "mid", got[0].StaffID)
}

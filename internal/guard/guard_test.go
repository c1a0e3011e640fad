package guard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
)

func seedEvent(t *testing.T, repo *storage.EventRepository, id, staff string, action models.Action, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &models.AttendanceEvent{
		EventID: id, StaffID: staff, Action: action, ClientTimestamp: at, SyncState: models.SyncLocalOnly,
	}))
}

func TestCooldown_Check(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	repo := storage.NewEventRepository(storage.NewMemoryStore())
	seedEvent(t, repo, "e1", "alice", models.ActionIn, t0)

	clk := clock.NewManual(t0)
	cd := NewCooldown(repo, clk)
	window := 300 * time.Second

	tests := []struct {
		name      string
		advance   time.Duration
		action    models.Action
		staff     string
		allowed   bool
		remaining int
	}{
		{"ten seconds later", 10 * time.Second, models.ActionIn, "", false, 290},
		{"sub-second rounds up", 10*time.Second + 500*time.Millisecond, models.ActionIn, "", false, 290},
		{"exactly at window", 300 * time.Second, models.ActionIn, "", true, 0},
		{"other action unaffected", 10 * time.Second, models.ActionOut, "", true, 0},
		{"staff scoped to other staff", 10 * time.Second, models.ActionIn, "bob", true, 0},
		{"staff scoped to same staff", 10 * time.Second, models.ActionIn, "alice", false, 290},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clk.Set(t0.Add(tc.advance))
			d, err := cd.Check(ctx, tc.action, tc.staff, window)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, d.Allowed)
			assert.Equal(t, tc.remaining, d.RemainingSec)
			if !tc.allowed {
				require.NotNil(t, d.Blocking)
				assert.Equal(t, "e1", d.Blocking.EventID)
			}
		})
	}
}

func TestCooldown_NoHistoryAndZeroWindow(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewEventRepository(storage.NewMemoryStore())
	cd := NewCooldown(repo, clock.NewManual(time.Now()))

	d, err := cd.Check(ctx, models.ActionOut, "", 300*time.Second)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	seedEvent(t, repo, "e1", "a", models.ActionOut, time.Now())
	d, err = cd.Check(ctx, models.ActionOut, "", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type failingFinder struct{}

func (failingFinder) LatestByAction(context.Context, models.Action, string) (*models.AttendanceEvent, error) {
	return nil, errors.New("disk on fire")
}

func TestCooldown_StoreError(t *testing.T) {
	_, err := NewCooldown(failingFinder{}, nil).Check(context.Background(), models.ActionIn, "", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check cooldown")
}

func TestSubmissionLock(t *testing.T) {
	l := NewSubmissionLock()

	assert.True(t, l.Acquire("IN"))
	assert.False(t, l.Acquire("IN"))
	assert.True(t, l.Acquire("OUT"), "actions lock independently")
	assert.True(t, l.Held("IN"))

	l.Release("IN")
	l.Release("IN")
	assert.False(t, l.Held("IN"))
	assert.True(t, l.Acquire("IN"))
}

func TestSubmissionLock_SingleWinner(t *testing.T) {
	l := NewSubmissionLock()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Acquire("IN") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

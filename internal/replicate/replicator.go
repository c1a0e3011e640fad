// Package replicate pushes locally recorded attendance events upstream.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

// Publisher sends one event upstream. queue.Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, subject, msgID string, data interface{}) (bool, error)
}

// EvidenceKey is where the evidence JPEG of an event is uploaded.
func EvidenceKey(e *models.AttendanceEvent) string {
	return fmt.Sprintf("evidence/%s/%s/%s.jpg", e.StaffID, e.ClientTimestamp.UTC().Format("2006-01-02"), e.EventID)
}

// Report summarises one replication pass.
type Report struct {
	Pending int
	Synced  int
	Failed  int
	Skipped int
}

type Replicator struct {
	events    *storage.EventRepository
	blobs     storage.BlobStore
	publisher Publisher
	clock     clock.Clock
	batchSize int
	logger    *slog.Logger
}

func New(events *storage.EventRepository, blobs storage.BlobStore, pub Publisher, clk clock.Clock, batchSize int) *Replicator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Replicator{
		events:    events,
		blobs:     blobs,
		publisher: pub,
		clock:     clk,
		batchSize: batchSize,
		logger:    slog.Default().With("component", "replicator"),
	}
}

// RunOnce replicates up to one batch of LOCAL_ONLY and FAILED events, oldest
// first. Each event moves to SYNCING and then to SYNCED or FAILED, every step
// a revision-checked write. An event whose revision moved underneath is
// skipped; someone else owns it.
func (r *Replicator) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	pending, err := r.events.Pending(ctx, 0)
	if err != nil {
		return rep, fmt.Errorf("list pending events: %w", err)
	}
	rep.Pending = len(pending)
	observability.PendingSyncEvents.Set(float64(len(pending)))

	if r.batchSize > 0 && len(pending) > r.batchSize {
		pending = pending[:r.batchSize]
	}

	for i := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		e := &pending[i]
		switch err := r.replicate(ctx, e); {
		case err == nil:
			rep.Synced++
			observability.ReplicatedEvents.WithLabelValues("synced").Inc()
		case errors.Is(err, storage.ErrConflict):
			rep.Skipped++
			observability.ReplicatedEvents.WithLabelValues("skipped").Inc()
			r.logger.Debug("event changed during replication", "event_id", e.EventID)
		default:
			rep.Failed++
			observability.ReplicatedEvents.WithLabelValues("failed").Inc()
			r.logger.Warn("replicate event failed", "event_id", e.EventID, "error", err)
		}
	}

	observability.PendingSyncEvents.Set(float64(rep.Pending - rep.Synced))
	return rep, nil
}

func (r *Replicator) replicate(ctx context.Context, e *models.AttendanceEvent) error {
	e.SyncState = models.SyncSyncing
	if err := r.events.UpdateSync(ctx, e); err != nil {
		return err
	}

	if err := r.push(ctx, e); err != nil {
		e.SyncState = models.SyncFailed
		if uerr := r.events.UpdateSync(ctx, e); uerr != nil {
			return errors.Join(err, fmt.Errorf("mark failed: %w", uerr))
		}
		return err
	}

	now := r.clock.Now().UTC()
	e.SyncState = models.SyncSynced
	e.ServerTimestamp = &now
	if err := r.events.UpdateSync(ctx, e); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return err
		}
		// Upstream has it; FAILED retries land on the dedup window.
		e.SyncState = models.SyncFailed
		e.ServerTimestamp = nil
		if uerr := r.events.UpdateSync(ctx, e); uerr != nil {
			return errors.Join(fmt.Errorf("mark synced: %w", err), fmt.Errorf("mark failed: %w", uerr))
		}
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// push uploads the evidence once and publishes the event message.
func (r *Replicator) push(ctx context.Context, e *models.AttendanceEvent) error {
	if len(e.Evidence) > 0 && e.EvidenceKey == "" && r.blobs != nil {
		key := EvidenceKey(e)
		if err := r.blobs.PutObject(ctx, key, e.Evidence, "image/jpeg"); err != nil {
			return fmt.Errorf("upload evidence: %w", err)
		}
		e.EvidenceKey = key
	}

	dup, err := r.publisher.PublishEvent(ctx,
		queue.EventSubject(e.DeviceID, string(e.Action)), e.EventID, dto.NewEventMessage(e))
	if err != nil {
		return err
	}
	if dup {
		r.logger.Info("upstream already had event", "event_id", e.EventID)
	}
	return nil
}

// Run calls RunOnce every interval until ctx is done. Events a previous
// process left in SYNCING are moved back to FAILED first.
func (r *Replicator) Run(ctx context.Context, interval time.Duration) error {
	if n, err := r.events.ReclaimSyncing(ctx); err != nil {
		r.logger.Warn("reclaim syncing events", "error", err)
	} else if n > 0 {
		r.logger.Info("reclaimed events stuck in SYNCING", "count", n)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		rep, err := r.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("replication pass failed", "error", err)
		} else if rep.Synced+rep.Failed > 0 {
			r.logger.Info("replication pass",
				"pending", rep.Pending, "synced", rep.Synced, "failed", rep.Failed, "skipped", rep.Skipped)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

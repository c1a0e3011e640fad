package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/your-org/attendance/internal/config"
)

// Backend is the set of stores a process runs on, chosen by configuration.
type Backend struct {
	Docs  DocumentStore
	Index DescriptorIndex // nil unless the driver can index descriptors
	Blobs BlobStore

	// Checks are readiness probes keyed by dependency name.
	Checks  map[string]func(ctx context.Context) error
	closers []func()
}

// Open builds the document store named by cfg.Storage.Driver and the blob
// store. MinIO is used when an endpoint is configured, otherwise blobs stay
// in memory.
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	b := &Backend{Checks: make(map[string]func(ctx context.Context) error)}

	switch cfg.Storage.Driver {
	case "memory":
		mem := NewMemoryStore()
		b.Docs = mem
		b.Checks["store"] = mem.Ping
	case "sqlite":
		lite, err := OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.Docs = lite
		b.Checks["store"] = lite.Ping
		b.closers = append(b.closers, func() { _ = lite.Close() })
	case "postgres":
		pg, err := NewPostgresStore(cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, cfg.Vision.EmbeddingDim); err != nil {
			pg.Close()
			return nil, err
		}
		b.Docs = pg
		b.Index = pg
		b.Checks["store"] = pg.Ping
		b.closers = append(b.closers, pg.Close)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.MinIO.Endpoint == "" {
		b.Blobs = NewMemoryBlobStore()
		return b, nil
	}
	m, err := NewMinIOStore(cfg.MinIO)
	if err != nil {
		b.Close()
		return nil, err
	}
	if err := m.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}
	b.Blobs = m
	b.Checks["blobs"] = m.Ping
	return b, nil
}

// Close releases the stores in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

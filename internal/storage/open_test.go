package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/config"
)

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Driver = "memory"

		b, err := Open(ctx, cfg)
		require.NoError(t, err)
		defer b.Close()

		assert.IsType(t, &MemoryStore{}, b.Docs)
		assert.IsType(t, &MemoryBlobStore{}, b.Blobs)
		assert.Nil(t, b.Index)
		require.Contains(t, b.Checks, "store")
		assert.NoError(t, b.Checks["store"](ctx))
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "att.db")

		b, err := Open(ctx, cfg)
		require.NoError(t, err)
		defer b.Close()

		assert.IsType(t, &SQLiteStore{}, b.Docs)
		assert.NoError(t, b.Checks["store"](ctx))

		rev, err := b.Docs.Put(ctx, Document{ID: "k", Kind: "test", Body: []byte(`{}`)})
		require.NoError(t, err)
		assert.Equal(t, int64(1), rev)
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.Driver = "couch"

		_, err := Open(ctx, cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "couch")
	})
}

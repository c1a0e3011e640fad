package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/storage"
)

func basePolicy() Policy {
	return FromConfig(config.Default().Policy)
}

func TestFromConfig(t *testing.T) {
	p := basePolicy()
	assert.InDelta(t, 0.6, p.MatchThreshold, 1e-9)
	assert.Equal(t, 300*time.Second, p.Cooldown)
	assert.Equal(t, 640, p.Evidence.MaxWidth)
	assert.Equal(t, 240, p.Evidence.MinWidth)
	assert.Equal(t, 60*1024, p.Evidence.MaxBytes)
	assert.Equal(t, 5*time.Second, p.LocationTimeout)
}

func TestStoreSource(t *testing.T) {
	ctx := context.Background()
	docs := storage.NewMemoryStore()
	src := NewStoreSource(docs, basePolicy())

	p, err := src.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, basePolicy(), p, "no document means base policy")

	threshold, cooldown := 0.45, 60
	require.NoError(t, src.Save(ctx, Overrides{MatchThreshold: &threshold, CooldownSeconds: &cooldown}))

	p, err = src.Current(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.45, p.MatchThreshold, 1e-9)
	assert.Equal(t, time.Minute, p.Cooldown)
	assert.Equal(t, 640, p.Evidence.MaxWidth, "unset fields keep the base")

	width := 320
	require.NoError(t, src.Save(ctx, Overrides{EvidenceMaxWidth: &width}))
	p, err = src.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, 320, p.Evidence.MaxWidth)
	assert.InDelta(t, 0.6, p.MatchThreshold, 1e-9, "a save replaces earlier overrides")
}

func TestStoreSource_MalformedDocumentFallsBack(t *testing.T) {
	ctx := context.Background()
	docs := storage.NewMemoryStore()
	_, err := docs.Put(ctx, storage.Document{ID: RuntimeDocID, Kind: "policy", Body: []byte(`{"match_threshold":"high"}`)})
	require.NoError(t, err)

	p, err := NewStoreSource(docs, basePolicy()).Current(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, p.MatchThreshold, 1e-9)
}

func TestOverrides_IgnoresInvalidValues(t *testing.T) {
	zero, neg, huge := 0.0, -5, 150
	p := Overrides{MatchThreshold: &zero, CooldownSeconds: &neg, EvidenceQuality: &huge}.apply(basePolicy())
	assert.Equal(t, basePolicy(), p)
}

func TestStatic(t *testing.T) {
	p, err := Static{P: basePolicy()}.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, basePolicy(), p)
}

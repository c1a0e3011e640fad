package geo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/models"
)

func TestHaversine(t *testing.T) {
	assert.InDelta(t, 0, Haversine(52.52, 13.405, 52.52, 13.405), 1e-9)
	// One degree of latitude is ~111.2 km.
	assert.InDelta(t, 111195, Haversine(0, 0, 1, 0), 50)
	// Berlin to Paris, ~878 km.
	assert.InDelta(t, 878000, Haversine(52.52, 13.405, 48.8566, 2.3522), 3000)
}

func TestFenceEvaluate(t *testing.T) {
	fence := Fence{Enabled: true, Lat: 52.52, Lng: 13.405, RadiusM: 150}

	tests := []struct {
		name   string
		fence  Fence
		pos    *models.Position
		err    error
		status models.GeofenceStatus
	}{
		{"inside", fence, &models.Position{Lat: 52.5205, Lng: 13.405}, nil, models.GeofenceInside},
		{"outside", fence, &models.Position{Lat: 52.53, Lng: 13.405}, nil, models.GeofenceOutside},
		{"timeout", fence, nil, ErrLocationTimeout, models.GeofenceLocationUnavailable},
		{"denied", fence, nil, ErrLocationDenied, models.GeofenceLocationUnavailable},
		{"disabled", Fence{}, &models.Position{Lat: 1, Lng: 1}, nil, models.GeofenceDisabled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := tc.fence.Evaluate(tc.pos, tc.err)
			assert.Equal(t, tc.status, res.Status)
			if tc.err != nil {
				assert.Equal(t, tc.err.Error(), res.Detail)
				assert.Nil(t, res.Position)
			}
		})
	}
}

func TestFenceEvaluate_Distance(t *testing.T) {
	fence := Fence{Enabled: true, Lat: 0, Lng: 0, RadiusM: 150}
	res := fence.Evaluate(&models.Position{Lat: 0.001, Lng: 0, AccuracyM: 12}, nil)
	assert.Equal(t, models.GeofenceInside, res.Status)
	assert.InDelta(t, 111.2, res.DistanceM, 0.5)
	assert.Equal(t, 150.0, res.RadiusM)
	require.NotNil(t, res.Position)
	assert.Equal(t, 12.0, res.Position.AccuracyM)
}

type blockingProvider struct{}

func (blockingProvider) CurrentPosition(ctx context.Context) (models.Position, error) {
	<-ctx.Done()
	return models.Position{}, ctx.Err()
}

func TestLocate(t *testing.T) {
	fence := Fence{Enabled: true, Lat: 0, Lng: 0, RadiusM: 150}
	ctx := context.Background()

	t.Run("provider position", func(t *testing.T) {
		res := Locate(ctx, StaticProvider{Position: models.Position{Lat: 0, Lng: 0.0005}}, fence, time.Second)
		assert.Equal(t, models.GeofenceInside, res.Status)
	})

	t.Run("timeout is unavailable", func(t *testing.T) {
		res := Locate(ctx, blockingProvider{}, fence, 10*time.Millisecond)
		assert.Equal(t, models.GeofenceLocationUnavailable, res.Status)
		assert.Contains(t, res.Detail, ErrLocationTimeout.Error())
	})

	t.Run("nil provider", func(t *testing.T) {
		res := Locate(ctx, nil, fence, time.Second)
		assert.Equal(t, models.GeofenceLocationUnavailable, res.Status)
	})

	t.Run("disabled skips provider", func(t *testing.T) {
		res := Locate(ctx, blockingProvider{}, Fence{}, 0)
		assert.Equal(t, models.GeofenceDisabled, res.Status)
	})
}

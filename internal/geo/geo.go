// Package geo classifies device positions against the office geofence.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

var (
	ErrLocationTimeout = errors.New("location request timed out")
	ErrLocationDenied  = errors.New("location permission denied")
)

const earthRadiusM = 6371008.8

// Provider yields the current device position.
type Provider interface {
	CurrentPosition(ctx context.Context) (models.Position, error)
}

// Haversine returns the great-circle distance in metres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Fence is a circular office boundary.
type Fence struct {
	Enabled bool
	Lat     float64
	Lng     float64
	RadiusM float64
}

func FenceFromConfig(cfg config.GeofenceConfig) Fence {
	return Fence{Enabled: cfg.Enabled, Lat: cfg.Lat, Lng: cfg.Lng, RadiusM: cfg.RadiusM}
}

// Evaluate classifies a position lookup. A failed lookup is reported as
// LOCATION_UNAVAILABLE with the cause in Detail; it is never fatal.
func (f Fence) Evaluate(pos *models.Position, lookupErr error) models.GeofenceResult {
	if !f.Enabled {
		return models.GeofenceResult{Status: models.GeofenceDisabled, Position: pos}
	}
	if lookupErr != nil || pos == nil {
		res := models.GeofenceResult{Status: models.GeofenceLocationUnavailable, RadiusM: f.RadiusM}
		if lookupErr != nil {
			res.Detail = lookupErr.Error()
		}
		return res
	}

	dist := Haversine(f.Lat, f.Lng, pos.Lat, pos.Lng)
	status := models.GeofenceInside
	if dist > f.RadiusM {
		status = models.GeofenceOutside
	}
	return models.GeofenceResult{
		Status:    status,
		Position:  pos,
		DistanceM: math.Round(dist*10) / 10,
		RadiusM:   f.RadiusM,
	}
}

// Locate asks p for a position within timeout and evaluates it against f.
// A nil provider counts as unavailable.
func Locate(ctx context.Context, p Provider, f Fence, timeout time.Duration) models.GeofenceResult {
	if !f.Enabled {
		return f.Evaluate(nil, nil)
	}
	if p == nil {
		return f.Evaluate(nil, errors.New("no location provider"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pos, err := p.CurrentPosition(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", ErrLocationTimeout, err)
		}
		return f.Evaluate(nil, err)
	}
	return f.Evaluate(&pos, nil)
}

// StaticProvider reports a fixed position or a fixed error. It serves kiosks
// mounted at a known spot and tests.
type StaticProvider struct {
	Position models.Position
	Err      error
}

func (s StaticProvider) CurrentPosition(ctx context.Context) (models.Position, error) {
	if err := ctx.Err(); err != nil {
		return models.Position{}, err
	}
	if s.Err != nil {
		return models.Position{}, s.Err
	}
	return s.Position, nil
}

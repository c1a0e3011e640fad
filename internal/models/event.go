package models

import "time"

type Action string

const (
	ActionIn  Action = "IN"
	ActionOut Action = "OUT"
)

func (a Action) Valid() bool {
	return a == ActionIn || a == ActionOut
}

type SyncState string

const (
	SyncLocalOnly SyncState = "LOCAL_ONLY"
	SyncSyncing   SyncState = "SYNCING"
	SyncSynced    SyncState = "SYNCED"
	SyncFailed    SyncState = "FAILED"
)

type GeofenceStatus string

const (
	GeofenceInside              GeofenceStatus = "INSIDE"
	GeofenceOutside             GeofenceStatus = "OUTSIDE"
	GeofenceLocationUnavailable GeofenceStatus = "LOCATION_UNAVAILABLE"
	GeofenceDisabled            GeofenceStatus = "DISABLED"
)

type Position struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	AccuracyM float64 `json:"accuracy_m"`
}

type GeofenceResult struct {
	Status    GeofenceStatus `json:"status"`
	Position  *Position      `json:"position,omitempty"`
	DistanceM float64        `json:"distance_m,omitempty"`
	RadiusM   float64        `json:"radius_m,omitempty"`
	Detail    string         `json:"detail,omitempty"`
}

// AttendanceEvent is append-only. Only the sync fields change after insert.
type AttendanceEvent struct {
	EventID         string         `json:"event_id"`
	StaffID         string         `json:"staff_id"`
	Action          Action         `json:"action"`
	ClientTimestamp time.Time      `json:"client_timestamp"`
	MatchDistance   float64        `json:"match_distance"`
	Geofence        GeofenceResult `json:"geofence"`
	SyncState       SyncState      `json:"sync_state"`
	ServerTimestamp *time.Time     `json:"server_timestamp,omitempty"`
	Evidence        []byte         `json:"evidence,omitempty"`
	EvidenceKey     string         `json:"evidence_key,omitempty"`
	DeviceID        string         `json:"device_id"`
	Rev             int64          `json:"-"`
}

package dto

import (
	"time"

	"github.com/your-org/attendance/internal/models"
)

type EventResponse struct {
	EventID         string                `json:"event_id"`
	StaffID         string                `json:"staff_id"`
	Action          string                `json:"action"`
	ClientTimestamp string                `json:"client_timestamp"`
	ServerTimestamp string                `json:"server_timestamp,omitempty"`
	MatchDistance   float64               `json:"match_distance"`
	Geofence        models.GeofenceResult `json:"geofence"`
	SyncState       string                `json:"sync_state"`
	DeviceID        string                `json:"device_id"`
	EvidenceURL     string                `json:"evidence_url,omitempty"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

type EventQuery struct {
	StaffID   string `form:"staff_id"`
	Action    string `form:"action"`
	SyncState string `form:"sync_state"`
	Limit     int    `form:"limit"`
}

// EventMessage is the replication payload published for each event. The
// evidence JPEG travels through the blob store, referenced by EvidenceKey.
type EventMessage struct {
	EventID         string                `json:"event_id"`
	StaffID         string                `json:"staff_id"`
	Action          string                `json:"action"`
	ClientTimestamp time.Time             `json:"client_timestamp"`
	MatchDistance   float64               `json:"match_distance"`
	Geofence        models.GeofenceResult `json:"geofence"`
	EvidenceKey     string                `json:"evidence_key,omitempty"`
	DeviceID        string                `json:"device_id"`
}

func NewEventMessage(e *models.AttendanceEvent) EventMessage {
	return EventMessage{
		EventID:         e.EventID,
		StaffID:         e.StaffID,
		Action:          string(e.Action),
		ClientTimestamp: e.ClientTimestamp,
		MatchDistance:   e.MatchDistance,
		Geofence:        e.Geofence,
		EvidenceKey:     e.EvidenceKey,
		DeviceID:        e.DeviceID,
	}
}

func NewEventResponse(e *models.AttendanceEvent) EventResponse {
	r := EventResponse{
		EventID:         e.EventID,
		StaffID:         e.StaffID,
		Action:          string(e.Action),
		ClientTimestamp: e.ClientTimestamp.UTC().Format(time.RFC3339),
		MatchDistance:   e.MatchDistance,
		Geofence:        e.Geofence,
		SyncState:       string(e.SyncState),
		DeviceID:        e.DeviceID,
	}
	if e.ServerTimestamp != nil {
		r.ServerTimestamp = e.ServerTimestamp.UTC().Format(time.RFC3339)
	}
	if len(e.Evidence) > 0 || e.EvidenceKey != "" {
		r.EvidenceURL = "/v1/events/" + e.EventID + "/evidence"
	}
	return r
}

// WSEvent is a WebSocket message pushed to kiosk and dashboard clients.
type WSEvent struct {
	Type      string      `json:"type"` // capture_transition, verification_result, event_replicated
	SessionID string      `json:"session_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	WSCaptureTransition  = "capture_transition"
	WSVerificationResult = "verification_result"
	WSEventReplicated    = "event_replicated"
)

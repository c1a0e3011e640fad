package models

type ReasonCode string

const (
	ReasonSuccessRecorded       ReasonCode = "SUCCESS_RECORDED"
	ReasonDuplicateIgnored      ReasonCode = "DUPLICATE_IGNORED"
	ReasonCooldownActive        ReasonCode = "COOLDOWN_ACTIVE"
	ReasonNoFaceDetected        ReasonCode = "NO_FACE_DETECTED"
	ReasonModelLoadFailed       ReasonCode = "MODEL_LOAD_FAILED"
	ReasonCameraUnavailable     ReasonCode = "CAMERA_UNAVAILABLE"
	ReasonEvidenceCaptureFailed ReasonCode = "EVIDENCE_CAPTURE_FAILED"
	ReasonPersistFailed         ReasonCode = "PERSIST_FAILED"
	ReasonVerificationFailed    ReasonCode = "VERIFICATION_FAILED"
)

// VerifyState is the pipeline state reached by an attempt.
type VerifyState string

const (
	VerifyScanning VerifyState = "SCANNING"
	VerifyMatched  VerifyState = "MATCHED"
	VerifyMismatch VerifyState = "MISMATCH"
)

// VerificationResult is derived from one attempt and never stored.
type VerificationResult struct {
	Success        bool           `json:"success"`
	Reason         ReasonCode     `json:"reason"`
	Retryable      bool           `json:"retryable"`
	State          VerifyState    `json:"state"`
	GeofenceStatus GeofenceStatus `json:"geofence_status,omitempty"`
	SyncState      SyncState      `json:"sync_state,omitempty"`
	Message        string         `json:"message"`
	EventID        string         `json:"event_id,omitempty"`
	StaffID        string         `json:"staff_id,omitempty"`
	RemainingSec   int            `json:"remaining_sec,omitempty"`
	Distance       float64        `json:"distance,omitempty"`
}

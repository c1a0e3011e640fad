package models

import "time"

type ProfileStatus string

const (
	ProfilePendingConsent ProfileStatus = "PENDING_CONSENT"
	ProfileActive         ProfileStatus = "ACTIVE"
	ProfileResetRequired  ProfileStatus = "RESET_REQUIRED"
	ProfileLocked         ProfileStatus = "LOCKED"
)

// LivenessAttestation records the passive movement check done over the
// accepted capture samples.
type LivenessAttestation struct {
	Passed      bool      `json:"passed"`
	Method      string    `json:"method"`
	Movement    float64   `json:"movement"`
	Consistency float64   `json:"consistency"`
	CheckedAt   time.Time `json:"checked_at"`
}

// EnrollmentProfile is the durable biometric record for one staff member.
type EnrollmentProfile struct {
	StaffID        string              `json:"staff_id"`
	Descriptors    [][]float32         `json:"descriptors"`
	MeanDescriptor []float32           `json:"mean_descriptor,omitempty"`
	ConsentAt      *time.Time          `json:"consent_at,omitempty"`
	Liveness       LivenessAttestation `json:"liveness"`
	Status         ProfileStatus       `json:"status"`
	PhotoKeys      []string            `json:"photo_keys,omitempty"`
	EnrolledAt     time.Time           `json:"enrolled_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
	Rev            int64               `json:"-"`
}

// Usable reports whether the profile may take part in matching.
func (p *EnrollmentProfile) Usable() bool {
	return p != nil && p.Status == ProfileActive && len(p.Descriptors) > 0
}

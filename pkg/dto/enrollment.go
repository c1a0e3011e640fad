package dto

type StartEnrollmentRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

type FinalizeEnrollmentRequest struct {
	Consent bool `json:"consent"`
}

// FinalizeEnrollmentResponse carries the review outcome. Profile is nil when
// the review kept fewer photos than needed and capture resumed.
type FinalizeEnrollmentResponse struct {
	ReviewedCount  int              `json:"reviewed_count"`
	RemovedCount   int              `json:"removed_count"`
	Reasons        map[string]int   `json:"reasons,omitempty"`
	PrimaryReason  string           `json:"primary_reason,omitempty"`
	NeedsRecapture bool             `json:"needs_recapture"`
	Profile        *ProfileResponse `json:"profile,omitempty"`
}

type ProfileResponse struct {
	StaffID         string  `json:"staff_id"`
	Status          string  `json:"status"`
	DescriptorCount int     `json:"descriptor_count"`
	ConsentAt       string  `json:"consent_at,omitempty"`
	LivenessPassed  bool    `json:"liveness_passed"`
	LivenessMethod  string  `json:"liveness_method,omitempty"`
	Movement        float64 `json:"movement"`
	EnrolledAt      string  `json:"enrolled_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type ProfileListResponse struct {
	Profiles []ProfileResponse `json:"profiles"`
	Total    int               `json:"total"`
}

package dto

// VerifyRequest accompanies a multipart frame upload. StaffID is empty for
// kiosk identification.
type VerifyRequest struct {
	Action  string `form:"action" binding:"required,oneof=IN OUT"`
	StaffID string `form:"staff_id"`
	EventID string `form:"event_id"`
}

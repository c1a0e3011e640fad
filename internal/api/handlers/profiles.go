package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

type ProfileHandler struct {
	profiles *storage.ProfileRepository
}

func NewProfileHandler(profiles *storage.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

func (h *ProfileHandler) List(c *gin.Context) {
	list, err := h.profiles.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	status := c.Query("status")
	resp := make([]dto.ProfileResponse, 0, len(list))
	for i := range list {
		if status != "" && string(list[i].Status) != status {
			continue
		}
		resp = append(resp, profileResponse(&list[i]))
	}
	c.JSON(http.StatusOK, dto.ProfileListResponse{Profiles: resp, Total: len(resp)})
}

func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.profiles.Load(c.Request.Context(), c.Param("staffId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse(p))
}

// profileResponse never exposes descriptors.
func profileResponse(p *models.EnrollmentProfile) dto.ProfileResponse {
	r := dto.ProfileResponse{
		StaffID:         p.StaffID,
		Status:          string(p.Status),
		DescriptorCount: len(p.Descriptors),
		LivenessPassed:  p.Liveness.Passed,
		LivenessMethod:  p.Liveness.Method,
		Movement:        p.Liveness.Movement,
		EnrolledAt:      p.EnrolledAt.UTC().Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if p.ConsentAt != nil {
		r.ConsentAt = p.ConsentAt.UTC().Format(time.RFC3339)
	}
	return r
}

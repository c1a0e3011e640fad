package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/verify"
	"github.com/your-org/attendance/pkg/dto"
)

type VerificationHandler struct {
	pipeline *verify.Pipeline
}

func NewVerificationHandler(p *verify.Pipeline) *VerificationHandler {
	return &VerificationHandler{pipeline: p}
}

// Verify runs one attempt on the uploaded frame. The outcome, including
// failures, is reported in the result body with status 200. A frame that
// cannot be read reaches the pipeline as missing and comes back as
// CAMERA_UNAVAILABLE.
func (h *VerificationHandler) Verify(c *gin.Context) {
	var req dto.VerifyRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	frame, err := readFrame(c)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "unreadable verification frame", "error", err)
		frame = nil
	}
	res := h.pipeline.Verify(c.Request.Context(), verify.Attempt{
		Action:  models.Action(req.Action),
		StaffID: req.StaffID,
		Frame:   frame,
		EventID: req.EventID,
	})
	c.JSON(http.StatusOK, res)
}

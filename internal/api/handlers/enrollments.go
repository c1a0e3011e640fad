package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/capture"
	"github.com/your-org/attendance/internal/enroll"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

type EnrollmentHandler struct {
	mgr *enroll.Manager
}

func NewEnrollmentHandler(mgr *enroll.Manager) *EnrollmentHandler {
	return &EnrollmentHandler{mgr: mgr}
}

func (h *EnrollmentHandler) Start(c *gin.Context) {
	var req dto.StartEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.mgr.Start(c.Request.Context(), req.StaffID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *EnrollmentHandler) Status(c *gin.Context) {
	st, err := h.mgr.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// PushFrame hands one camera frame to the session. The capture loop picks it
// up on its next tick; progress arrives over the websocket or Status.
func (h *EnrollmentHandler) PushFrame(c *gin.Context) {
	img, err := readFrame(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.mgr.PushFrame(c.Param("id"), img); err != nil {
		respondError(c, err)
		return
	}
	st, err := h.mgr.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}

func (h *EnrollmentHandler) Pause(c *gin.Context)  { h.control(c, h.mgr.Pause) }
func (h *EnrollmentHandler) Resume(c *gin.Context) { h.control(c, h.mgr.Resume) }
func (h *EnrollmentHandler) Reset(c *gin.Context)  { h.control(c, h.mgr.Reset) }

func (h *EnrollmentHandler) control(c *gin.Context, op func(string) error) {
	if err := op(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	h.Status(c)
}

func (h *EnrollmentHandler) Finalize(c *gin.Context) {
	var req dto.FinalizeEnrollmentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := h.mgr.Finalize(c.Request.Context(), c.Param("id"), req.Consent)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.FinalizeEnrollmentResponse{
		ReviewedCount:  res.Review.ReviewedCount,
		RemovedCount:   res.Review.RemovedCount,
		Reasons:        reasonCounts(res.Review.Reasons),
		PrimaryReason:  string(res.Review.PrimaryReason),
		NeedsRecapture: res.Review.NeedsRecapture,
	}
	if res.Profile != nil {
		p := profileResponse(res.Profile)
		resp.Profile = &p
	}
	c.JSON(http.StatusOK, resp)
}

func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	if err := h.mgr.Cancel(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ConfirmConsent, RequireReset and Lock act on a stored profile.
func (h *EnrollmentHandler) ConfirmConsent(c *gin.Context) { h.profileOp(c, h.mgr.ConfirmConsent) }
func (h *EnrollmentHandler) RequireReset(c *gin.Context)   { h.profileOp(c, h.mgr.RequireReset) }
func (h *EnrollmentHandler) Lock(c *gin.Context)           { h.profileOp(c, h.mgr.Lock) }

func (h *EnrollmentHandler) profileOp(c *gin.Context, op func(ctx context.Context, staffID string) (*models.EnrollmentProfile, error)) {
	p, err := op(c.Request.Context(), c.Param("staffId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse(p))
}

func reasonCounts(in map[capture.RemovalReason]int) map[string]int {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}

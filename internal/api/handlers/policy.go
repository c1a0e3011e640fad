package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/policy"
)

type PolicyHandler struct {
	source *policy.StoreSource
}

func NewPolicyHandler(source *policy.StoreSource) *PolicyHandler {
	return &PolicyHandler{source: source}
}

func (h *PolicyHandler) Get(c *gin.Context) {
	p, err := h.source.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"match_threshold":      p.MatchThreshold,
		"cooldown_seconds":     int(p.Cooldown.Seconds()),
		"cooldown_per_staff":   p.CooldownPerStaff,
		"evidence_max_width":   p.Evidence.MaxWidth,
		"evidence_quality":     p.Evidence.Quality,
		"evidence_max_bytes":   p.Evidence.MaxBytes,
		"location_timeout_sec": p.LocationTimeout.Seconds(),
	})
}

// Put stores overrides. Omitted fields keep their configured value.
func (h *PolicyHandler) Put(c *gin.Context) {
	var o policy.Overrides
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.source.Save(c.Request.Context(), o); err != nil {
		respondError(c, err)
		return
	}
	h.Get(c)
}

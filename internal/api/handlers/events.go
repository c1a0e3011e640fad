package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/pkg/dto"
)

const defaultEventLimit = 50

type EventHandler struct {
	events *storage.EventRepository
	blobs  storage.BlobStore
}

func NewEventHandler(events *storage.EventRepository, blobs storage.BlobStore) *EventHandler {
	return &EventHandler{events: events, blobs: blobs}
}

func (h *EventHandler) List(c *gin.Context) {
	var q dto.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 {
		q.Limit = defaultEventLimit
	}
	f := storage.EventFilter{StaffID: q.StaffID, Action: models.Action(q.Action), Limit: q.Limit}
	if q.SyncState != "" {
		f.SyncStates = []models.SyncState{models.SyncState(q.SyncState)}
	}

	events, err := h.events.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := make([]dto.EventResponse, 0, len(events))
	for i := range events {
		resp = append(resp, dto.NewEventResponse(&events[i]))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: len(resp)})
}

func (h *EventHandler) Get(c *gin.Context) {
	e, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewEventResponse(e))
}

// Evidence serves the watermarked JPEG, from the local event while it is
// still held there and from the blob store otherwise.
func (h *EventHandler) Evidence(c *gin.Context) {
	e, err := h.events.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	data := e.Evidence
	if len(data) == 0 && e.EvidenceKey != "" && h.blobs != nil {
		data, err = h.blobs.GetObject(c.Request.Context(), e.EvidenceKey)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if len(data) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "event has no evidence"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

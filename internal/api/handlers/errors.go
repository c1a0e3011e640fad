package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/enroll"
	"github.com/your-org/attendance/internal/storage"
)

// maxFrameBytes caps one uploaded camera frame.
const maxFrameBytes = 8 << 20

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, enroll.ErrSessionNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, enroll.ErrSessionActive),
		errors.Is(err, enroll.ErrSessionIncomplete),
		errors.Is(err, enroll.ErrProfileLocked),
		errors.Is(err, enroll.ErrInvalidTransition),
		errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// readFrame decodes the camera frame from the "frame" multipart field or,
// failing that, from the raw request body.
func readFrame(c *gin.Context) (image.Image, error) {
	var r io.Reader
	if fh, err := c.FormFile("frame"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open frame: %w", err)
		}
		defer f.Close()
		r = f
	} else {
		r = c.Request.Body
	}

	data, err := io.ReadAll(io.LimitReader(r, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	if len(data) > maxFrameBytes {
		return nil, fmt.Errorf("frame larger than %d bytes", maxFrameBytes)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

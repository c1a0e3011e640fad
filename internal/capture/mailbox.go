package capture

import (
	"image"
	"sync"
)

// FrameSource hands the loop the frame to evaluate next.
type FrameSource interface {
	LatestFrame() (image.Image, bool)
}

// Mailbox holds only the most recent camera frame. A frame that arrives
// before the previous one was taken replaces it.
type Mailbox struct {
	mu      sync.Mutex
	frame   image.Image
	dropped uint64
}

func NewMailbox() *Mailbox { return &Mailbox{} }

func (m *Mailbox) Put(frame image.Image) {
	m.mu.Lock()
	if m.frame != nil {
		m.dropped++
	}
	m.frame = frame
	m.mu.Unlock()
}

// LatestFrame takes the pending frame. It reports false when no new frame
// has arrived since the last call.
func (m *Mailbox) LatestFrame() (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f := m.frame
	m.frame = nil
	return f, f != nil
}

// Dropped counts frames replaced before they were evaluated.
func (m *Mailbox) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

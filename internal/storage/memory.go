package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process DocumentStore.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	d.Body = append([]byte(nil), d.Body...)
	return &d, nil
}

func (s *MemoryStore) Put(_ context.Context, doc Document) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.docs[doc.ID]
	switch {
	case doc.Rev == 0 && exists:
		return 0, fmt.Errorf("insert %s: %w", doc.ID, ErrConflict)
	case doc.Rev > 0 && (!exists || cur.Rev != doc.Rev):
		return 0, fmt.Errorf("update %s at rev %d: %w", doc.ID, doc.Rev, ErrConflict)
	}

	doc.Rev++
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	doc.Body = append([]byte(nil), doc.Body...)
	s.docs[doc.ID] = doc
	return doc.Rev, nil
}

func (s *MemoryStore) AllDocs(_ context.Context, prefix string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for id, d := range s.docs {
		if strings.HasPrefix(id, prefix) {
			d.Body = append([]byte(nil), d.Body...)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

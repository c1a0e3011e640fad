package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/your-org/attendance/internal/matcher"
)

// MemoryIndex is a brute-force DescriptorIndex for devices without Postgres.
type MemoryIndex struct {
	mu    sync.RWMutex
	staff map[string][][]float32
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{staff: make(map[string][][]float32)}
}

func (ix *MemoryIndex) IndexDescriptors(_ context.Context, staffID string, descriptors [][]float32) error {
	cp := make([][]float32, len(descriptors))
	for i, d := range descriptors {
		cp[i] = append([]float32(nil), d...)
	}
	ix.mu.Lock()
	ix.staff[staffID] = cp
	ix.mu.Unlock()
	return nil
}

func (ix *MemoryIndex) RemoveDescriptors(_ context.Context, staffID string) error {
	ix.mu.Lock()
	delete(ix.staff, staffID)
	ix.mu.Unlock()
	return nil
}

func (ix *MemoryIndex) NearestStaff(_ context.Context, query []float32, limit int) ([]Candidate, error) {
	ix.mu.RLock()
	out := make([]Candidate, 0, len(ix.staff))
	for id, set := range ix.staff {
		out = append(out, Candidate{StaffID: id, Distance: matcher.MinDistance(set, query)})
	}
	ix.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance == out[j].Distance {
			return out[i].StaffID < out[j].StaffID
		}
		return out[i].Distance < out[j].Distance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (ix *MemoryIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.staff)
}

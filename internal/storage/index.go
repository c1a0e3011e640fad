package storage

import "context"

// Candidate is a staff member proposed by a DescriptorIndex.
type Candidate struct {
	StaffID  string
	Distance float64
}

// DescriptorIndex narrows identification to the nearest enrolled staff.
// PostgresStore implements it with pgvector.
type DescriptorIndex interface {
	IndexDescriptors(ctx context.Context, staffID string, descriptors [][]float32) error
	RemoveDescriptors(ctx context.Context, staffID string) error
	NearestStaff(ctx context.Context, query []float32, limit int) ([]Candidate, error)
}

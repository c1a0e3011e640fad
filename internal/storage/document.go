package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Document is the unit the stores persist. Rev is assigned by the store:
// 1 on insert, incremented on every successful update.
type Document struct {
	ID        string          `json:"id"`
	Rev       int64           `json:"rev"`
	Kind      string          `json:"kind"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DocumentStore is a revision-checked key/value store.
//
// Put with Rev == 0 inserts and fails with ErrConflict if the id exists.
// Put with Rev > 0 updates only if the stored revision equals Rev, otherwise
// ErrConflict. It returns the new revision.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*Document, error)
	Put(ctx context.Context, doc Document) (int64, error)
	AllDocs(ctx context.Context, prefix string) ([]Document, error)
}

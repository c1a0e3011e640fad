package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
  id         TEXT PRIMARY KEY,
  rev        INTEGER NOT NULL,
  kind       TEXT NOT NULL,
  body       BLOB NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_kind_idx ON documents (kind);
`

// SQLiteStore is the on-device DocumentStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps CAS updates serialised and makes ":memory:" a single database.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an open handle and applies the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	var d Document
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, rev, kind, body, updated_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Rev, &d.Kind, &d.Body, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	d.UpdatedAt = time.Unix(0, updated).UTC()
	return &d, nil
}

func (s *SQLiteStore) Put(ctx context.Context, doc Document) (int64, error) {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	var res sql.Result
	var err error
	if doc.Rev == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO documents (id, rev, kind, body, updated_at) VALUES (?, 1, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			doc.ID, doc.Kind, []byte(doc.Body), doc.UpdatedAt.UnixNano())
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE documents SET rev = rev + 1, kind = ?, body = ?, updated_at = ?
			 WHERE id = ? AND rev = ?`,
			doc.Kind, []byte(doc.Body), doc.UpdatedAt.UnixNano(), doc.ID, doc.Rev)
	}
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", doc.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("put %s rows affected: %w", doc.ID, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("put %s at rev %d: %w", doc.ID, doc.Rev, ErrConflict)
	}
	return doc.Rev + 1, nil
}

func (s *SQLiteStore) AllDocs(ctx context.Context, prefix string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rev, kind, body, updated_at FROM documents
		 WHERE substr(id, 1, length(?)) = ? ORDER BY id`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("all docs %q: %w", prefix, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var updated int64
		if err := rows.Scan(&d.ID, &d.Rev, &d.Kind, &d.Body, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.UpdatedAt = time.Unix(0, updated).UTC()
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("all docs %q: %w", prefix, err)
	}
	return docs, nil
}

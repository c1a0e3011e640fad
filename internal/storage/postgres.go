package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attendance/internal/config"
)

// PostgresStore is the server-side DocumentStore. It also keeps a pgvector
// index of enrolled descriptors for kiosk identification.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the documents table and the descriptor index for the given dimension.
func (s *PostgresStore) Migrate(ctx context.Context, embeddingDim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			rev        BIGINT NOT NULL,
			kind       TEXT NOT NULL,
			body       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS documents_kind_idx ON documents (kind)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS profile_descriptors (
			staff_id  TEXT NOT NULL,
			idx       INT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (staff_id, idx)
		)`, embeddingDim),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}

// --- Documents ---

func (s *PostgresStore) Get(ctx context.Context, id string) (*Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, rev, kind, body, updated_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Rev, &d.Kind, &d.Body, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &d, nil
}

func (s *PostgresStore) Put(ctx context.Context, doc Document) (int64, error) {
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}

	var rows int64
	if doc.Rev == 0 {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO documents (id, rev, kind, body, updated_at) VALUES ($1, 1, $2, $3, $4)
			 ON CONFLICT (id) DO NOTHING`,
			doc.ID, doc.Kind, []byte(doc.Body), doc.UpdatedAt)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", doc.ID, err)
		}
		rows = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx,
			`UPDATE documents SET rev = rev + 1, kind = $2, body = $3, updated_at = $4
			 WHERE id = $1 AND rev = $5`,
			doc.ID, doc.Kind, []byte(doc.Body), doc.UpdatedAt, doc.Rev)
		if err != nil {
			return 0, fmt.Errorf("update %s: %w", doc.ID, err)
		}
		rows = tag.RowsAffected()
	}
	if rows == 0 {
		return 0, fmt.Errorf("put %s at rev %d: %w", doc.ID, doc.Rev, ErrConflict)
	}
	return doc.Rev + 1, nil
}

func (s *PostgresStore) AllDocs(ctx context.Context, prefix string) ([]Document, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, rev, kind, body, updated_at FROM documents
		 WHERE starts_with(id, $1) ORDER BY id`, prefix)
	if err != nil {
		return nil, fmt.Errorf("all docs %q: %w", prefix, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Rev, &d.Kind, &d.Body, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Descriptor index ---

// IndexDescriptors replaces the indexed descriptors of one staff member.
func (s *PostgresStore) IndexDescriptors(ctx context.Context, staffID string, descriptors [][]float32) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM profile_descriptors WHERE staff_id = $1`, staffID); err != nil {
		return fmt.Errorf("clear descriptors: %w", err)
	}

	batch := &pgx.Batch{}
	for i, d := range descriptors {
		batch.Queue(`INSERT INTO profile_descriptors (staff_id, idx, embedding) VALUES ($1, $2, $3)`,
			staffID, i, pgvector.NewVector(d))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert descriptors: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit descriptors: %w", err)
	}
	return nil
}

// RemoveDescriptors drops a staff member from the index.
func (s *PostgresStore) RemoveDescriptors(ctx context.Context, staffID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM profile_descriptors WHERE staff_id = $1`, staffID); err != nil {
		return fmt.Errorf("remove descriptors: %w", err)
	}
	return nil
}

// NearestStaff returns up to limit staff ids ordered by their closest descriptor (L2).
func (s *PostgresStore) NearestStaff(ctx context.Context, query []float32, limit int) ([]Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT staff_id, MIN(embedding <-> $1) AS distance
		 FROM profile_descriptors
		 GROUP BY staff_id
		 ORDER BY distance
		 LIMIT $2`,
		pgvector.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("nearest staff: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.StaffID, &c.Distance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// DocumentStoreSuite runs the same contract against every DocumentStore.
type DocumentStoreSuite struct {
	suite.Suite
	newStore func(t *testing.T) DocumentStore
	store    DocumentStore
	ctx      context.Context
}

func (s *DocumentStoreSuite) SetupTest() {
	s.store = s.newStore(s.T())
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &DocumentStoreSuite{newStore: func(*testing.T) DocumentStore {
		return NewMemoryStore()
	}})
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, &DocumentStoreSuite{newStore: func(t *testing.T) DocumentStore {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		store, err := NewSQLiteStore(db)
		require.NoError(t, err)
		return store
	}})
}

func body(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func (s *DocumentStoreSuite) TestInsertAndGet() {
	rev, err := s.store.Put(s.ctx, Document{ID: "event:1", Kind: "k", Body: body(map[string]int{"n": 1})})
	s.Require().NoError(err)
	s.Equal(int64(1), rev)

	got, err := s.store.Get(s.ctx, "event:1")
	s.Require().NoError(err)
	s.Equal(int64(1), got.Rev)
	s.Equal("k", got.Kind)
	s.JSONEq(`{"n":1}`, string(got.Body))
	s.False(got.UpdatedAt.IsZero())
}

func (s *DocumentStoreSuite) TestGetMissing() {
	_, err := s.store.Get(s.ctx, "event:nope")
	s.ErrorIs(err, ErrNotFound)
}

func (s *DocumentStoreSuite) TestInsertExistingIDConflicts() {
	_, err := s.store.Put(s.ctx, Document{ID: "event:1", Kind: "k", Body: body(1)})
	s.Require().NoError(err)

	_, err = s.store.Put(s.ctx, Document{ID: "event:1", Kind: "k", Body: body(2)})
	s.ErrorIs(err, ErrConflict)

	got, err := s.store.Get(s.ctx, "event:1")
	s.Require().NoError(err)
	s.JSONEq(`1`, string(got.Body), "first write wins")
}

func (s *DocumentStoreSuite) TestCompareAndSwap() {
	_, err := s.store.Put(s.ctx, Document{ID: "profile:a", Kind: "k", Body: body("v1")})
	s.Require().NoError(err)

	s.Run("current revision updates", func() {
		rev, err := s.store.Put(s.ctx, Document{ID: "profile:a", Rev: 1, Kind: "k", Body: body("v2")})
		s.Require().NoError(err)
		s.Equal(int64(2), rev)
	})

	s.Run("stale revision conflicts", func() {
		_, err := s.store.Put(s.ctx, Document{ID: "profile:a", Rev: 1, Kind: "k", Body: body("stale")})
		s.ErrorIs(err, ErrConflict)

		got, err := s.store.Get(s.ctx, "profile:a")
		s.Require().NoError(err)
		s.Equal(int64(2), got.Rev)
		s.JSONEq(`"v2"`, string(got.Body))
	})

	s.Run("update of missing id conflicts", func() {
		_, err := s.store.Put(s.ctx, Document{ID: "profile:ghost", Rev: 3, Kind: "k", Body: body(1)})
		s.ErrorIs(err, ErrConflict)
	})
}

func (s *DocumentStoreSuite) TestAllDocsByPrefix() {
	for _, id := range []string{"event:b", "profile:x", "event:a", "eventual:z"} {
		_, err := s.store.Put(s.ctx, Document{ID: id, Kind: "k", Body: body(id)})
		s.Require().NoError(err)
	}

	docs, err := s.store.AllDocs(s.ctx, "event:")
	s.Require().NoError(err)
	s.Require().Len(docs, 2)
	s.Equal("event:a", docs[0].ID)
	s.Equal("event:b", docs[1].ID)

	all, err := s.store.AllDocs(s.ctx, "")
	s.Require().NoError(err)
	s.Len(all, 4)
}

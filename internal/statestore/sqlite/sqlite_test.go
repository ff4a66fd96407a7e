package sqlite_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/statestore"
	"github.com/dshills/qa-orchestrator/internal/statestore/sqlite"
)

func strPtr(s string) *string { return &s }

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadUnknownThreadIsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommitCreatesAndLoads(t *testing.T) {
	s := openTestStore(t)
	q := "강남구 아파트 시세"

	version, err := s.Commit(context.Background(), "t1", 0, statestore.Patch{
		SessionID: strPtr("s1"),
		Query:     &q,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	st, err := s.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, q, st.Query)
	assert.Equal(t, "t1", st.ThreadID)
}

func TestCommitDetectsVersionConflict(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Commit(context.Background(), "t1", 0, statestore.Patch{SessionID: strPtr("s1")})
	require.NoError(t, err)

	_, err = s.Commit(context.Background(), "t1", 0, statestore.Patch{SessionID: strPtr("s1")})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	_, err = s.Commit(context.Background(), "t1", 1, statestore.Patch{SessionID: strPtr("s1")})
	assert.NoError(t, err)
}

func TestListThreadsFiltersBySession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Commit(context.Background(), "t1", 0, statestore.Patch{SessionID: strPtr("session-a")})
	require.NoError(t, err)
	_, err = s.Commit(context.Background(), "t2", 0, statestore.Patch{SessionID: strPtr("session-b")})
	require.NoError(t, err)

	threads, err := s.ListThreads(context.Background(), "session-a", 0)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "t1", threads[0].ThreadID)
}

func TestDeleteRemovesThread(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Commit(context.Background(), "t1", 0, statestore.Patch{SessionID: strPtr("s1")})
	require.NoError(t, err)

	require.NoError(t, s.Delete(context.Background(), "t1"))
	_, err = s.Load(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

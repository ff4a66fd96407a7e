package mysql_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/statestore"
	"github.com/dshills/qa-orchestrator/internal/statestore/mysql"
)

// TestMySQLIntegration validates Store against a real MySQL/MariaDB server.
//
// Prerequisites:
//   - MySQL server running (local, Docker, or cloud).
//   - QA_ORCHESTRATOR_TEST_MYSQL_DSN set, e.g.
//     "user:password@tcp(localhost:3306)/test_db?parseTime=true".
//
// To run:
//
//	export QA_ORCHESTRATOR_TEST_MYSQL_DSN="user:password@tcp(localhost:3306)/test_db?parseTime=true"
//	go test -v -run TestMySQLIntegration ./internal/statestore/mysql
func TestMySQLIntegration(t *testing.T) {
	dsn := os.Getenv("QA_ORCHESTRATOR_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("Skipping MySQL integration test: set QA_ORCHESTRATOR_TEST_MYSQL_DSN to run")
	}

	store, err := mysql.Open(dsn)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	threadID := "integration-thread-1"
	defer func() { _ = store.Delete(context.Background(), threadID) }()

	q := "강남구 아파트 시세"
	sessionID := "integration-session"
	version, err := store.Commit(context.Background(), threadID, 0, statestore.Patch{
		SessionID: &sessionID,
		Query:     &q,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	st, err := store.Load(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, sessionID, st.SessionID)
	assert.Equal(t, q, st.Query)

	_, err = store.Commit(context.Background(), threadID, 0, statestore.Patch{SessionID: &sessionID})
	assert.ErrorIs(t, err, domain.ErrVersionConflict)

	threads, err := store.ListThreads(context.Background(), sessionID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, threads)
}

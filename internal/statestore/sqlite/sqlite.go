// Package sqlite is a single-file, WAL-mode backed statestore.Store,
// grounded on the teacher's graph/store.SQLiteStore: single-writer
// concurrency via SQLite's own locking plus an application-level
// per-thread mutex, JSON-serialized RunState rows keyed by thread_id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/statestore"
)

// Store persists RunState documents in a SQLite database file.
type Store struct {
	db *sql.DB

	// perThread serializes Commit calls per thread_id, giving the
	// "single-writer-per-thread" invariant an explicit lock instead of
	// relying solely on SQLite's table-level write lock (which would
	// otherwise serialize unrelated threads against each other too).
	mu        sync.Mutex
	perThread map[string]*sync.Mutex
}

// Open creates/opens a SQLite database at path and ensures the schema
// exists. Use ":memory:" for an ephemeral database useful in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db, perThread: make(map[string]*sync.Mutex)}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS run_states (
			thread_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			state TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_states_session ON run_states(session_id, updated_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Store) lockFor(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perThread[threadID]
	if !ok {
		m = &sync.Mutex{}
		s.perThread[threadID] = m
	}
	return m
}

func (s *Store) Load(ctx context.Context, threadID string) (domain.RunState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM run_states WHERE thread_id = ?`, threadID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return domain.RunState{}, domain.ErrNotFound
		}
		return domain.RunState{}, fmt.Errorf("load state: %w", err)
	}
	var st domain.RunState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.RunState{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *Store) Commit(ctx context.Context, threadID string, baseVersion int, patch statestore.Patch) (int, error) {
	lock := s.lockFor(threadID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev domain.RunState
	var currentVersion int
	row := tx.QueryRowContext(ctx, `SELECT version, state FROM run_states WHERE thread_id = ?`, threadID)
	var raw string
	switch err := row.Scan(&currentVersion, &raw); err {
	case nil:
		if currentVersion != baseVersion {
			return 0, domain.ErrVersionConflict
		}
		if err := json.Unmarshal([]byte(raw), &prev); err != nil {
			return 0, fmt.Errorf("decode state: %w", err)
		}
	case sql.ErrNoRows:
		if baseVersion != 0 {
			return 0, domain.ErrVersionConflict
		}
	default:
		return 0, fmt.Errorf("read state: %w", err)
	}

	next := statestore.Apply(prev, patch)
	next.ThreadID = threadID
	next.Version = baseVersion + 1

	encoded, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("encode state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run_states (thread_id, session_id, version, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			session_id = excluded.session_id,
			version = excluded.version,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, threadID, next.SessionID, next.Version, string(encoded), time.Now())
	if err != nil {
		return 0, fmt.Errorf("upsert state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return next.Version, nil
}

func (s *Store) ListThreads(ctx context.Context, sessionID string, limit int) ([]domain.ThreadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, session_id, state, updated_at
		FROM run_states WHERE session_id = ?
		ORDER BY updated_at DESC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var out []domain.ThreadSummary
	for rows.Next() {
		var threadID, sid, raw string
		var updatedAt time.Time
		if err := rows.Scan(&threadID, &sid, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		var st domain.RunState
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("decode thread row: %w", err)
		}
		out = append(out, domain.ThreadSummary{
			ThreadID:   threadID,
			SessionID:  sid,
			Status:     st.Status,
			LastUpdate: updatedAt,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastUpdate.After(out[j].LastUpdate) })
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_states WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package mysql is a MySQL/MariaDB-backed statestore.Store for multi-process
// deployments, grounded on the teacher's graph/store.MySQLStore: connection
// pooling, transactional upserts, and an optimistic version column.
//
// Security note: never hardcode credentials in the DSN; load it from the
// environment or the credential handles named in domain.ContextCarrier.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/dshills/qa-orchestrator/internal/domain"
	"github.com/dshills/qa-orchestrator/internal/statestore"
)

// Store persists RunState documents in a MySQL/MariaDB table.
type Store struct {
	db *sql.DB
}

// Open connects to dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.createSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS run_states (
			thread_id VARCHAR(191) PRIMARY KEY,
			session_id VARCHAR(191) NOT NULL,
			version INT NOT NULL,
			state LONGTEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_run_states_session (session_id, updated_at)
		) ENGINE=InnoDB
	`
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
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

// Commit relies on MySQL row-level locking (SELECT ... FOR UPDATE) to
// enforce the single-writer-per-thread invariant across processes, unlike
// the sqlite backend which layers an in-process mutex on top of SQLite's
// own coarser locking.
func (s *Store) Commit(ctx context.Context, threadID string, baseVersion int, patch statestore.Patch) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev domain.RunState
	var currentVersion int
	row := tx.QueryRowContext(ctx, `SELECT version, state FROM run_states WHERE thread_id = ? FOR UPDATE`, threadID)
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
		ON DUPLICATE KEY UPDATE
			session_id = VALUES(session_id),
			version = VALUES(version),
			state = VALUES(state),
			updated_at = VALUES(updated_at)
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

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

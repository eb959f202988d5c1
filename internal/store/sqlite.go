package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ashureev/interviewd/internal/domain"
)

const (
	sqliteMaxRetries = 3
	sqliteBaseDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	limits Limits
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, limits Limits) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	// Write transactions start IMMEDIATE so the capacity check and the insert
	// hold the write lock together.
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, limits: limits}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS interview_sessions (
		session_id TEXT PRIMARY KEY,
		user_name TEXT NOT NULL,
		state TEXT NOT NULL,
		question_idx INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		session_json TEXT NOT NULL,
		start_time INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interview_sessions_updated ON interview_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT session_json FROM interview_sessions WHERE session_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &session, nil
}

// Save creates or replaces a session.
// Retries with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) Save(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	return withRetry(ctx, "save session", session.ID, func() error {
		return s.saveOnce(ctx, session, data)
	})
}

func (s *SQLiteStore) saveOnce(ctx context.Context, session *domain.Session, data []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.limits.MaxSessions > 0 {
		if err := s.ensureCapacity(ctx, tx, session.ID); err != nil {
			return err
		}
	}

	query := `
	INSERT INTO interview_sessions (
		session_id, user_name, state, question_idx, total_questions,
		session_json, start_time, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		user_name = excluded.user_name,
		state = excluded.state,
		question_idx = excluded.question_idx,
		total_questions = excluded.total_questions,
		session_json = excluded.session_json,
		updated_at = excluded.updated_at`

	if _, err := tx.ExecContext(ctx, query,
		session.ID, session.UserName, string(session.State()),
		session.CurrentQuestionIdx, session.TotalQuestions(),
		string(data), session.StartTime.Unix(), session.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

// Update replaces an existing session.
func (s *SQLiteStore) Update(ctx context.Context, session *domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	return withRetry(ctx, "update session", session.ID, func() error {
		res, err := s.db.ExecContext(ctx, `
		UPDATE interview_sessions SET
			user_name = ?, state = ?, question_idx = ?, total_questions = ?,
			session_json = ?, updated_at = ?
		WHERE session_id = ?`,
			session.UserName, string(session.State()), session.CurrentQuestionIdx,
			session.TotalQuestions(), string(data), session.UpdatedAt.Unix(), session.ID,
		)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) ensureCapacity(ctx context.Context, tx *sql.Tx, id string) error {
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM interview_sessions WHERE session_id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	if exists > 0 {
		return nil
	}

	count := func() (int, error) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM interview_sessions`).Scan(&n); err != nil {
			return 0, fmt.Errorf("count sessions: %w", err)
		}
		return n, nil
	}

	n, err := count()
	if err != nil {
		return err
	}
	if n < s.limits.MaxSessions {
		return nil
	}

	if s.limits.IdleTTL > 0 {
		threshold := time.Now().Add(-s.limits.IdleTTL).Unix()
		res, err := tx.ExecContext(ctx, `DELETE FROM interview_sessions WHERE updated_at < ?`, threshold)
		if err != nil {
			return fmt.Errorf("evict idle sessions: %w", err)
		}
		if evicted, _ := res.RowsAffected(); evicted > 0 {
			slog.Info("evicted idle sessions to make room", "count", evicted)
		}
		if n, err = count(); err != nil {
			return err
		}
	}
	if n >= s.limits.MaxSessions {
		return domain.ErrCapacity
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := withRetry(ctx, "delete session", id, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM interview_sessions WHERE session_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		deleted = rows > 0
		return nil
	})
	return deleted, err
}

// DeleteIdle removes sessions not updated within ttl.
func (s *SQLiteStore) DeleteIdle(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).Unix()

	var ids []string
	err := withRetry(ctx, "delete idle sessions", "", func() error {
		ids = ids[:0]
		rows, err := s.db.QueryContext(ctx, `DELETE FROM interview_sessions WHERE updated_at < ? RETURNING session_id`, threshold)
		if err != nil {
			return fmt.Errorf("delete idle sessions: %w", err)
		}
		defer func() {
			if closeErr := rows.Close(); closeErr != nil {
				slog.Warn("failed to close idle session rows", "error", closeErr)
			}
		}()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan idle session id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate idle sessions: %w", err)
		}
		return nil
	})
	return ids, err
}

// Count returns the number of stored sessions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM interview_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// withRetry runs fn, retrying with exponential backoff while SQLite reports a
// lock conflict.
func withRetry(ctx context.Context, op, id string, fn func() error) error {
	var err error
	for i := 0; i < sqliteMaxRetries; i++ {
		if err = fn(); err == nil || !isLockConflict(err) {
			return err
		}
		if i == sqliteMaxRetries-1 {
			break
		}
		delay := sqliteBaseDelay * time.Duration(1<<i) // exponential backoff: 50ms, 100ms
		slog.Debug("sqlite busy, retrying", "op", op, "session_id", id, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s %s after %d attempts: %w", op, id, sqliteMaxRetries, err)
}

// isLockConflict reports SQLITE_BUSY and SQLITE_LOCKED, including their
// extended codes and errors that only carry the message text.
func isLockConflict(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

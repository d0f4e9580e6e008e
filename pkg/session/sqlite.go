package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const backendSQLite = "sqlite"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
`

// SQLiteStore keeps sessions in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	s.refreshActiveSessions(context.Background())

	log.Info().Str("path", dbPath).Msg("SQLite session store opened")
	return s, nil
}

// CreateSession creates a session with a fresh id and no conversation id
func (s *SQLiteStore) CreateSession(ctx context.Context) (string, error) {
	ctx, finish := startOp(ctx, backendSQLite, "create", "")
	id := uuid.New().String()
	now := s.now().UnixNano()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, conversation_id, created_at, updated_at) VALUES (?, '', ?, ?)`,
		id, now, now)
	if err != nil {
		err = fmt.Errorf("failed to insert session: %w", err)
		finish(err)
		return "", err
	}

	finish(nil)
	s.refreshActiveSessions(ctx)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Str("session_id", id).Msg("Session created")
	return id, nil
}

// GetSession loads a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, finish := startOp(ctx, backendSQLite, "get", sessionID)

	var (
		out              Session
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, conversation_id, created_at, updated_at FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&out.SessionID, &out.ConversationID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		finish(err)
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to load session: %w", err)
		finish(err)
		return nil, err
	}

	out.CreatedAt = time.Unix(0, created)
	out.UpdatedAt = time.Unix(0, updated)
	finish(nil)
	return &out, nil
}

// UpdateConversationID stores the codex conversation id and refreshes UpdatedAt
func (s *SQLiteStore) UpdateConversationID(ctx context.Context, sessionID, conversationID string) error {
	ctx, finish := startOp(ctx, backendSQLite, "update_conversation", sessionID)
	err := s.execOne(ctx, sessionID,
		`UPDATE sessions SET conversation_id = ?, updated_at = ? WHERE session_id = ?`,
		conversationID, s.now().UnixNano(), sessionID)
	finish(err)
	return err
}

// Touch refreshes UpdatedAt
func (s *SQLiteStore) Touch(ctx context.Context, sessionID string) error {
	ctx, finish := startOp(ctx, backendSQLite, "touch", sessionID)
	err := s.execOne(ctx, sessionID,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		s.now().UnixNano(), sessionID)
	finish(err)
	return err
}

// ListSessions returns all sessions, oldest first
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]Session, error) {
	ctx, finish := startOp(ctx, backendSQLite, "list", "")

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, conversation_id, created_at, updated_at FROM sessions ORDER BY created_at, session_id`)
	if err != nil {
		err = fmt.Errorf("failed to list sessions: %w", err)
		finish(err)
		return nil, err
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var (
			sess             Session
			created, updated int64
		)
		if err := rows.Scan(&sess.SessionID, &sess.ConversationID, &created, &updated); err != nil {
			err = fmt.Errorf("failed to scan session: %w", err)
			finish(err)
			return nil, err
		}
		sess.CreatedAt = time.Unix(0, created)
		sess.UpdatedAt = time.Unix(0, updated)
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		err = fmt.Errorf("failed to list sessions: %w", err)
		finish(err)
		return nil, err
	}

	finish(nil)
	return out, nil
}

// DeleteSession removes a session
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	ctx, finish := startOp(ctx, backendSQLite, "delete", sessionID)
	err := s.execOne(ctx, sessionID, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	finish(err)
	if err == nil {
		s.refreshActiveSessions(ctx)
	}
	return err
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execOne runs a statement that must affect exactly the row for sessionID.
func (s *SQLiteStore) execOne(ctx context.Context, sessionID, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

func (s *SQLiteStore) refreshActiveSessions(ctx context.Context) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return
	}
	observability.SetActiveSessions(count)
}

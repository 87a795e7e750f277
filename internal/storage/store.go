package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kirachat/backend/internal/model/chat"
)

var (
	// ErrMissingTimestamp is returned by DeleteOlderThan when no cutoff is given.
	ErrMissingTimestamp = errors.New("cutoff timestamp is required")
	// ErrInvalidMessageType is returned for message types other than user/ai.
	ErrInvalidMessageType = errors.New("message type must be user or ai")
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// MaxListLimit caps page sizes on all list operations.
const MaxListLimit = 100

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL,
	type       TEXT    NOT NULL CHECK (type IN ('user', 'ai')),
	text       TEXT    NOT NULL,
	structured INTEGER NOT NULL DEFAULT 0,
	audio_url  TEXT,
	session_id TEXT,
	model      TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_user_created ON messages(user_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT    NOT NULL,
	device_id  TEXT    NOT NULL,
	session_id TEXT    NOT NULL UNIQUE,
	last_seen  INTEGER NOT NULL
);
`

// Store owns the messages and sessions tables. No other component
// touches the database directly.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports a single writer; keep the pool at one connection
	// so the driver serializes writes instead of returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMessage appends one chat turn and returns its id.
// CreatedAt defaults to the current UTC time when unset.
func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (int64, error) {
	if m.Type != chat.TypeUser && m.Type != chat.TypeAI {
		return 0, ErrInvalidMessageType
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (user_id, type, text, structured, audio_url, session_id, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Type, m.Text, m.Structured,
		nullable(m.AudioURL), nullable(m.SessionID), nullable(m.Model),
		m.CreatedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return id, nil
}

// ListRecent returns the newest messages for a user, newest first, capped at MaxListLimit.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]chat.Message, error) {
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, text, structured, audio_url, session_id, model, created_at
		 FROM messages WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// Page is one slice of a user's message history.
type Page struct {
	Messages   []chat.Message
	HasMore    bool
	NextOffset int
}

// ListPage returns a newest-first page of messages. HasMore is computed
// from a total count against the same filter.
func (s *Store) ListPage(ctx context.Context, userID string, limit, offset int) (Page, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, text, structured, audio_url, session_id, model, created_at
		 FROM messages WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Messages:   messages,
		HasMore:    offset+limit < total,
		NextOffset: offset + len(messages),
	}, nil
}

// DeleteOlderThan removes every message created before the cutoff and
// returns the number of deleted rows. Idempotent: repeating the call
// with the same cutoff deletes nothing.
func (s *Store) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, ErrMissingTimestamp
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE user_id = ? AND created_at < ?`,
		userID, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted rows: %w", err)
	}
	return deleted, nil
}

// UpsertSession inserts or replaces the session row keyed on the session token.
func (s *Store) UpsertSession(ctx context.Context, sess chat.Session) error {
	if sess.LastSeen.IsZero() {
		sess.LastSeen = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, device_id, session_id, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			device_id = excluded.device_id,
			last_seen = excluded.last_seen`,
		sess.UserID, sess.DeviceID, sess.SessionID, sess.LastSeen.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// GetSession looks up a session by its token.
func (s *Store) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var (
		sess     chat.Session
		lastSeen int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, device_id, session_id, last_seen
		 FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.DeviceID, &sess.SessionID, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, ErrNotFound
	}
	if err != nil {
		return chat.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	sess.LastSeen = time.UnixMilli(lastSeen).UTC()
	return sess, nil
}

func scanMessages(rows *sql.Rows) ([]chat.Message, error) {
	messages := make([]chat.Message, 0, 16)
	for rows.Next() {
		var (
			m         chat.Message
			audioURL  sql.NullString
			sessionID sql.NullString
			model     sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Text, &m.Structured,
			&audioURL, &sessionID, &model, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.AudioURL = audioURL.String
		m.SessionID = sessionID.String
		m.Model = model.String
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

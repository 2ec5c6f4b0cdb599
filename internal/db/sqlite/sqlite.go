// Package sqlite is an embedded SQLite implementation of db.Store, used when
// no Postgres database is configured and by tests (":memory:").
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jonathan/resume-tailor/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS wizard_sessions (
	id TEXT PRIMARY KEY,
	cursor_pos INTEGER NOT NULL DEFAULT -1,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS wizard_history_entries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES wizard_sessions(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	fragment TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (session_id, position)
);
`

// Store is a db.Store backed by a single SQLite connection.
type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer, and every :memory: connection is a
	// separate database.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() {
	_ = s.conn.Close()
}

// Migrate creates the wizard tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateSession creates an empty session.
func (s *Store) CreateSession(ctx context.Context) (*db.Session, error) {
	now := s.now()
	sess := db.Session{ID: uuid.New(), Cursor: -1, CreatedAt: now, UpdatedAt: now}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO wizard_sessions (id, cursor_pos, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID.String(), sess.Cursor, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*db.Session, error) {
	sess, err := scanSession(s.conn.QueryRowContext(ctx,
		`SELECT id, cursor_pos, created_at, updated_at FROM wizard_sessions WHERE id = ?`,
		id.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns the most recently updated sessions.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]db.Session, error) {
	if limit <= 0 {
		limit = db.DefaultSessionListLimit
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, cursor_pos, created_at, updated_at
		 FROM wizard_sessions ORDER BY updated_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []db.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session and its history.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM wizard_sessions WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return db.ErrSessionNotFound
	}
	return nil
}

// PushEntry records an entry after the current one, discarding forward entries.
func (s *Store) PushEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*db.HistoryEntry, error) {
	return s.writeEntry(ctx, sessionID, fragment, state, false)
}

// ReplaceEntry overwrites the current entry, or records the first one.
func (s *Store) ReplaceEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*db.HistoryEntry, error) {
	return s.writeEntry(ctx, sessionID, fragment, state, true)
}

func (s *Store) writeEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte, replace bool) (*db.HistoryEntry, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cursor, err := lockCursor(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entry := db.HistoryEntry{
		ID:        db.NewEntryID(),
		SessionID: sessionID,
		Position:  cursor + 1,
		Fragment:  fragment,
		State:     append([]byte(nil), state...),
		CreatedAt: now,
	}

	if replace && cursor >= 0 {
		entry.Position = cursor
		if _, err := tx.ExecContext(ctx,
			`UPDATE wizard_history_entries SET id = ?, fragment = ?, state = ?, created_at = ?
			 WHERE session_id = ? AND position = ?`,
			entry.ID, fragment, string(state), now, sessionID.String(), cursor,
		); err != nil {
			return nil, fmt.Errorf("failed to replace history entry: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM wizard_history_entries WHERE session_id = ? AND position > ?`,
			sessionID.String(), cursor,
		); err != nil {
			return nil, fmt.Errorf("failed to discard forward entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wizard_history_entries (id, session_id, position, fragment, state, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, sessionID.String(), entry.Position, fragment, string(state), now,
		); err != nil {
			return nil, fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wizard_sessions SET cursor_pos = ?, updated_at = ? WHERE id = ?`,
		entry.Position, now, sessionID.String(),
	); err != nil {
		return nil, fmt.Errorf("failed to move session cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit history entry: %w", err)
	}
	return &entry, nil
}

// MoveCursor moves the cursor by delta and returns the entry now current.
// Out of range moves return (nil, nil) and change nothing.
func (s *Store) MoveCursor(ctx context.Context, sessionID uuid.UUID, delta int) (*db.HistoryEntry, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cursor, err := lockCursor(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM wizard_history_entries WHERE session_id = ?`,
		sessionID.String(),
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count history entries: %w", err)
	}

	target := cursor + delta
	if target < 0 || target >= count {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE wizard_sessions SET cursor_pos = ?, updated_at = ? WHERE id = ?`,
		target, s.now(), sessionID.String(),
	); err != nil {
		return nil, fmt.Errorf("failed to move session cursor: %w", err)
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT id, session_id, position, fragment, state, created_at
		 FROM wizard_history_entries WHERE session_id = ? AND position = ?`,
		sessionID.String(), target,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cursor move: %w", err)
	}
	return entry, nil
}

// CurrentEntry returns the entry at the session's cursor.
func (s *Store) CurrentEntry(ctx context.Context, sessionID uuid.UUID) (*db.HistoryEntry, error) {
	entry, err := scanEntry(s.conn.QueryRowContext(ctx,
		`SELECT e.id, e.session_id, e.position, e.fragment, e.state, e.created_at
		 FROM wizard_history_entries e
		 JOIN wizard_sessions s ON s.id = e.session_id AND e.position = s.cursor_pos
		 WHERE s.id = ?`,
		sessionID.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns every recorded entry of a session in position order.
func (s *Store) ListEntries(ctx context.Context, sessionID uuid.UUID) ([]db.HistoryEntry, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session_id, position, fragment, state, created_at
		 FROM wizard_history_entries WHERE session_id = ? ORDER BY position`,
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []db.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func lockCursor(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID) (int, error) {
	var cursor int
	err := tx.QueryRowContext(ctx,
		`SELECT cursor_pos FROM wizard_sessions WHERE id = ?`,
		sessionID.String(),
	).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, db.ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session cursor: %w", err)
	}
	return cursor, nil
}

func scanSession(row scanner) (*db.Session, error) {
	var sess db.Session
	var id string
	if err := row.Scan(&id, &sess.Cursor, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", id, err)
	}
	sess.ID = parsed
	return &sess, nil
}

func scanEntry(row scanner) (*db.HistoryEntry, error) {
	var e db.HistoryEntry
	var sessionID, state string
	if err := row.Scan(&e.ID, &sessionID, &e.Position, &e.Fragment, &state, &e.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session id %q: %w", sessionID, err)
	}
	e.SessionID = parsed
	e.State = []byte(state)
	return &e, nil
}

var _ db.Store = (*Store)(nil)

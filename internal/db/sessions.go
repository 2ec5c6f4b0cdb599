package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the wizard tables if they do not exist.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Session Methods
// -----------------------------------------------------------------------------

// CreateSession creates an empty session
func (db *DB) CreateSession(ctx context.Context) (*Session, error) {
	s := Session{ID: uuid.New(), Cursor: -1}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO wizard_sessions (id, cursor_pos)
		 VALUES ($1, $2)
		 RETURNING created_at, updated_at`,
		s.ID, s.Cursor,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &s, nil
}

// GetSession retrieves a session by ID
func (db *DB) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s Session
	err := db.pool.QueryRow(ctx,
		`SELECT id, cursor_pos, created_at, updated_at FROM wizard_sessions WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.Cursor, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// ListSessions returns the most recently updated sessions
func (db *DB) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultSessionListLimit
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, cursor_pos, created_at, updated_at
		 FROM wizard_sessions
		 ORDER BY updated_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Cursor, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session and its history
func (db *DB) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM wizard_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// -----------------------------------------------------------------------------
// History Methods
// -----------------------------------------------------------------------------

// PushEntry records an entry after the session's current one, discarding any
// forward entries, and makes it current.
func (db *DB) PushEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*HistoryEntry, error) {
	return db.writeEntry(ctx, sessionID, fragment, state, false)
}

// ReplaceEntry overwrites the session's current entry. A session with no
// entries gets its first one.
func (db *DB) ReplaceEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*HistoryEntry, error) {
	return db.writeEntry(ctx, sessionID, fragment, state, true)
}

func (db *DB) writeEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte, replace bool) (*HistoryEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cursor int
	err = tx.QueryRow(ctx,
		`SELECT cursor_pos FROM wizard_sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	entry := HistoryEntry{
		ID:        NewEntryID(),
		SessionID: sessionID,
		Position:  cursor + 1,
		Fragment:  fragment,
		State:     state,
	}

	if replace && cursor >= 0 {
		entry.Position = cursor
		err = tx.QueryRow(ctx,
			`UPDATE wizard_history_entries
			 SET id = $3, fragment = $4, state = $5, created_at = NOW()
			 WHERE session_id = $1 AND position = $2
			 RETURNING created_at`,
			sessionID, cursor, entry.ID, fragment, string(state),
		).Scan(&entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to replace history entry: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`DELETE FROM wizard_history_entries WHERE session_id = $1 AND position > $2`,
			sessionID, cursor,
		); err != nil {
			return nil, fmt.Errorf("failed to discard forward entries: %w", err)
		}

		err = tx.QueryRow(ctx,
			`INSERT INTO wizard_history_entries (id, session_id, position, fragment, state)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING created_at`,
			entry.ID, sessionID, entry.Position, fragment, string(state),
		).Scan(&entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wizard_sessions SET cursor_pos = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, entry.Position,
	); err != nil {
		return nil, fmt.Errorf("failed to move session cursor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit history entry: %w", err)
	}
	return &entry, nil
}

// MoveCursor moves the session's cursor by delta (negative is back) and
// returns the entry now current. Moving outside the recorded entries returns
// (nil, nil) and leaves the cursor unchanged.
func (db *DB) MoveCursor(ctx context.Context, sessionID uuid.UUID, delta int) (*HistoryEntry, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cursor, count int
	err = tx.QueryRow(ctx,
		`SELECT cursor_pos FROM wizard_sessions WHERE id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&cursor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lock session: %w", err)
	}

	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM wizard_history_entries WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to count history entries: %w", err)
	}

	target := cursor + delta
	if target < 0 || target >= count {
		return nil, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wizard_sessions SET cursor_pos = $2, updated_at = NOW() WHERE id = $1`,
		sessionID, target,
	); err != nil {
		return nil, fmt.Errorf("failed to move session cursor: %w", err)
	}

	entry, err := scanEntry(tx.QueryRow(ctx,
		`SELECT id, session_id, position, fragment, state, created_at
		 FROM wizard_history_entries WHERE session_id = $1 AND position = $2`,
		sessionID, target,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit cursor move: %w", err)
	}
	return entry, nil
}

// CurrentEntry returns the entry at the session's cursor
func (db *DB) CurrentEntry(ctx context.Context, sessionID uuid.UUID) (*HistoryEntry, error) {
	entry, err := scanEntry(db.pool.QueryRow(ctx,
		`SELECT e.id, e.session_id, e.position, e.fragment, e.state, e.created_at
		 FROM wizard_history_entries e
		 JOIN wizard_sessions s ON s.id = e.session_id AND e.position = s.cursor_pos
		 WHERE s.id = $1`,
		sessionID,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns every recorded entry of a session in position order
func (db *DB) ListEntries(ctx context.Context, sessionID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, position, fragment, state, created_at
		 FROM wizard_history_entries
		 WHERE session_id = $1
		 ORDER BY position`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*HistoryEntry, error) {
	var e HistoryEntry
	var state []byte
	if err := row.Scan(&e.ID, &e.SessionID, &e.Position, &e.Fragment, &state, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.State = state
	return &e, nil
}

var _ Store = (*DB)(nil)

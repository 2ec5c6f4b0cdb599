package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/jonathan/resume-tailor/internal/wizard"
)

// ErrSessionNotFound is returned by writes against a session that does not exist.
var ErrSessionNotFound = errors.New("session not found")

// Session is one wizard session. Cursor is the position of the current
// history entry, or -1 before anything is recorded.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Cursor    int       `json:"cursor"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HistoryEntry is one recorded navigation entry of a session.
type HistoryEntry struct {
	ID        string          `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Position  int             `json:"position"`
	Fragment  string          `json:"fragment"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// WizardEntry converts the row to the entry the controller replays.
func (e *HistoryEntry) WizardEntry() *wizard.Entry {
	if e == nil {
		return nil
	}
	return &wizard.Entry{Fragment: e.Fragment, Data: e.State}
}

// Store is the persistence surface for wizard sessions. Lookups return
// (nil, nil) when the row does not exist.
type Store interface {
	Migrate(ctx context.Context) error
	CreateSession(ctx context.Context) (*Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	PushEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*HistoryEntry, error)
	ReplaceEntry(ctx context.Context, sessionID uuid.UUID, fragment string, state []byte) (*HistoryEntry, error)
	MoveCursor(ctx context.Context, sessionID uuid.UUID, delta int) (*HistoryEntry, error)
	CurrentEntry(ctx context.Context, sessionID uuid.UUID) (*HistoryEntry, error)
	ListEntries(ctx context.Context, sessionID uuid.UUID) ([]HistoryEntry, error)
	Close()
}

// NewEntryID returns a new sortable history entry ID.
func NewEntryID() string {
	return ulid.Make().String()
}

// DefaultSessionListLimit caps ListSessions when no limit is given.
const DefaultSessionListLimit = 50

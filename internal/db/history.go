package db

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/resume-tailor/internal/wizard"
)

// SessionHistory adapts a Store to wizard.History for one session, so the
// controller's pushes and replaces land in that session's history log.
type SessionHistory struct {
	store     Store
	sessionID uuid.UUID
}

// NewSessionHistory returns the history of sessionID in store.
func NewSessionHistory(store Store, sessionID uuid.UUID) *SessionHistory {
	return &SessionHistory{store: store, sessionID: sessionID}
}

// Push implements wizard.History.
func (h *SessionHistory) Push(ctx context.Context, entry wizard.Entry) error {
	_, err := h.store.PushEntry(ctx, h.sessionID, entry.Fragment, entry.Data)
	return err
}

// Replace implements wizard.History.
func (h *SessionHistory) Replace(ctx context.Context, entry wizard.Entry) error {
	_, err := h.store.ReplaceEntry(ctx, h.sessionID, entry.Fragment, entry.Data)
	return err
}

var _ wizard.History = (*SessionHistory)(nil)

package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/resume-tailor/internal/db"
	"github.com/jonathan/resume-tailor/internal/events"
	"github.com/jonathan/resume-tailor/internal/server/middleware"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

// sessionView is the wizard as the front-end renders it.
type sessionView struct {
	SessionID uuid.UUID     `json:"session_id"`
	Token     string        `json:"token,omitempty"`
	State     wizard.State  `json:"state"`
	Fragment  string        `json:"fragment"`
	Available []wizard.Step `json:"available"`
}

func newSessionView(id uuid.UUID, ctrl *wizard.Controller) sessionView {
	available := ctrl.Available()
	if available == nil {
		available = []wizard.Step{}
	}
	return sessionView{
		SessionID: id,
		State:     ctrl.State(),
		Fragment:  ctrl.Fragment(),
		Available: available,
	}
}

// AdvanceRequest moves the wizard forward with the data a step collected.
type AdvanceRequest struct {
	Step    string         `json:"step" validate:"required"`
	Payload wizard.Payload `json:"payload"`
}

// NavigateRequest is a host back (negative) or forward (positive) move.
type NavigateRequest struct {
	Delta int `json:"delta" validate:"ne=0"`
}

// FragmentRequest is a hash change without a history entry.
type FragmentRequest struct {
	Fragment string `json:"fragment"`
}

// LoadRequest describes a fresh page load.
type LoadRequest struct {
	Fragment string `json:"fragment"`
	HasEntry bool   `json:"has_entry"`
}

// historyResponse lists a session's recorded entries.
type historyResponse struct {
	SessionID uuid.UUID         `json:"session_id"`
	Cursor    int               `json:"cursor"`
	Entries   []db.HistoryEntry `json:"entries"`
}

// observers are the options every session controller is built with.
func (s *Server) observers(id uuid.UUID) []wizard.Option {
	return []wizard.Option{
		wizard.WithObserver(s.recorder),
		wizard.WithObserver(events.Observer(id.String(), s.publisher)),
		wizard.WithObserver(s.streams.observer(id)),
	}
}

// newController builds a controller whose history is the session's log.
func (s *Server) newController(id uuid.UUID) *wizard.Controller {
	return wizard.NewController(db.NewSessionHistory(s.store, id), s.observers(id)...)
}

// openSession returns the locked session named by the authorized token,
// loading its controller from the store when it is not cached. Callers
// must release it.
func (s *Server) openSession(ctx context.Context, r *http.Request) (*session, error) {
	id, err := middleware.GetSessionID(r)
	if err != nil {
		return nil, err
	}

	sess := s.sessions.acquire(id)
	if sess.ctrl != nil {
		return sess, nil
	}

	rec, err := s.store.GetSession(ctx, id)
	if err == nil && rec == nil {
		err = &ErrSessionNotFound{SessionID: id}
	}
	if err != nil {
		s.sessions.release(sess)
		s.sessions.remove(id)
		return nil, err
	}

	entry, err := s.store.CurrentEntry(ctx, id)
	if err != nil {
		s.sessions.release(sess)
		return nil, err
	}
	// Rebuilding is not a navigation, so nothing is observed.
	sess.ctrl = wizard.Restore(ctx, db.NewSessionHistory(s.store, id), entry.WizardEntry(), s.observers(id)...)
	return sess, nil
}

// transitionResponse writes the view, or a 409 describing a rejected
// transition.
func (s *Server) transitionResponse(w http.ResponseWriter, sess *session, err error) {
	var te *wizard.TransitionError
	switch {
	case err == nil:
		s.jsonResponse(w, http.StatusOK, newSessionView(sess.id, sess.ctrl))
	case errors.As(err, &te):
		s.jsonResponse(w, http.StatusConflict, map[string]any{
			"error":  err.Error(),
			"op":     te.Op,
			"from":   te.From,
			"to":     te.To,
			"reason": te.Reason,
		})
	default:
		s.handleError(w, err)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.CreateSession(r.Context())
	if err != nil {
		s.handleError(w, err)
		return
	}

	token, err := s.jwtService.GenerateToken(rec.ID)
	if err != nil {
		s.handleError(w, err)
		return
	}

	sess := s.sessions.acquire(rec.ID)
	sess.ctrl = s.newController(rec.ID)
	view := newSessionView(rec.ID, sess.ctrl)
	s.sessions.release(sess)

	view.Token = token
	log.Printf("[server] created session %s", rec.ID)
	s.jsonResponse(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	s.jsonResponse(w, http.StatusOK, newSessionView(sess.id, sess.ctrl))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.GetSessionID(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	sess := s.sessions.acquire(id)
	err = s.store.DeleteSession(r.Context(), id)
	s.sessions.release(sess)
	s.sessions.remove(id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}
	target, err := wizard.ParseStep(req.Step)
	if err != nil {
		s.handleError(w, &ErrValidation{Field: "step", Message: err.Error()})
		return
	}

	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	_, err = sess.ctrl.Advance(r.Context(), target, req.Payload)
	s.transitionResponse(w, sess, err)
}

func (s *Server) handleRetreat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	_, err = sess.ctrl.Retreat(r.Context())
	s.transitionResponse(w, sess, err)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	_, err = sess.ctrl.Reset(r.Context())
	s.transitionResponse(w, sess, err)
}

// handleNavigate applies a host back/forward move. A move past either end
// of the recorded history delivers no entry, which degrades to Start; the
// entry at the unchanged cursor is overwritten with Start so the stored
// history agrees with the controller.
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req NavigateRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	entry, err := s.store.MoveCursor(r.Context(), sess.id, req.Delta)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if entry == nil {
		start, err := wizard.NewEntry(wizard.State{Step: wizard.StepStart})
		if err == nil {
			err = db.NewSessionHistory(s.store, sess.id).Replace(r.Context(), start)
		}
		if err != nil {
			s.handleError(w, err)
			return
		}
	}
	sess.ctrl.OnHistoryChange(r.Context(), entry.WizardEntry())
	s.jsonResponse(w, http.StatusOK, newSessionView(sess.id, sess.ctrl))
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request) {
	var req FragmentRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	sess.ctrl.OnFragmentChange(r.Context(), req.Fragment)
	s.jsonResponse(w, http.StatusOK, newSessionView(sess.id, sess.ctrl))
}

// handleLoad starts a fresh controller for a page load, as a reload does.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req LoadRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.handleError(w, err)
		return
	}

	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer s.sessions.release(sess)

	var entry *wizard.Entry
	if req.HasEntry {
		current, err := s.store.CurrentEntry(r.Context(), sess.id)
		if err != nil {
			s.handleError(w, err)
			return
		}
		entry = current.WizardEntry()
	}

	sess.ctrl = s.newController(sess.id)
	sess.ctrl.Load(r.Context(), req.Fragment, entry)
	s.jsonResponse(w, http.StatusOK, newSessionView(sess.id, sess.ctrl))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.GetSessionID(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	rec, err := s.store.GetSession(r.Context(), id)
	if err == nil && rec == nil {
		err = &ErrSessionNotFound{SessionID: id}
	}
	if err != nil {
		s.handleError(w, err)
		return
	}

	entries, err := s.store.ListEntries(r.Context(), id)
	if err != nil {
		s.handleError(w, err)
		return
	}
	if entries == nil {
		entries = []db.HistoryEntry{}
	}
	s.jsonResponse(w, http.StatusOK, historyResponse{SessionID: id, Cursor: rec.Cursor, Entries: entries})
}

// streamKeepAlive is how often an idle event stream sends a comment.
const streamKeepAlive = 25 * time.Second

// handleSessionEvents streams the session's committed transitions. The
// first event is the current view.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id, err := middleware.GetSessionID(r)
	if err != nil {
		s.handleError(w, err)
		return
	}

	msgs, cancel := s.streams.subscribe(id)
	defer cancel()

	sess, err := s.openSession(r.Context(), r)
	if err != nil {
		s.handleError(w, err)
		return
	}
	view := newSessionView(sess.id, sess.ctrl)
	s.sessions.release(sess)

	// Streams outlive the server's write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Printf("[server] failed to clear write deadline for session %s stream: %v", id, err)
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteEvent("state", view); err != nil {
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				sse.WriteError("server shutting down")
				return
			}
			if err := sse.WriteEvent(msg.Op, msg); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
			sse.flusher.Flush()
		}
	}
}

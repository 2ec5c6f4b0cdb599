package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/resume-tailor/internal/metrics"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

// DefaultMaxSessions bounds the controllers kept in memory.
const DefaultMaxSessions = 1000

// session serializes the events of one wizard session, as the host's single
// event queue does. ctrl is nil until the session is loaded from the store.
type session struct {
	mu   sync.Mutex
	id   uuid.UUID
	ctrl *wizard.Controller

	// guarded by the registry lock
	refs     int
	lastUsed time.Time
}

// sessionRegistry caches one session per ID. Evicted sessions are rebuilt
// from the store by replaying their current entry.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session
	max      int
	recorder *metrics.Recorder
	now      func() time.Time
}

func newSessionRegistry(max int, recorder *metrics.Recorder) *sessionRegistry {
	if max <= 0 {
		max = DefaultMaxSessions
	}
	return &sessionRegistry{
		sessions: make(map[uuid.UUID]*session),
		max:      max,
		recorder: recorder,
		now:      time.Now,
	}
}

// acquire returns the locked session for id, creating an unloaded one when
// needed. Callers must pass it to release.
func (r *sessionRegistry) acquire(id uuid.UUID) *session {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.evictLocked()
		sess = &session{id: id}
		r.sessions[id] = sess
		r.recorder.SessionLoaded()
	}
	sess.refs++
	sess.lastUsed = r.now()
	r.mu.Unlock()

	sess.mu.Lock()
	return sess
}

// release unlocks a session returned by acquire.
func (r *sessionRegistry) release(sess *session) {
	sess.mu.Unlock()
	r.mu.Lock()
	sess.refs--
	r.mu.Unlock()
}

// remove drops id from the cache.
func (r *sessionRegistry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		r.recorder.SessionEvicted()
	}
}

// evictLocked frees room for one more session by dropping the least
// recently used idle one. Sessions with holders or waiters are never
// evicted, so one session never has two controllers.
func (r *sessionRegistry) evictLocked() {
	for len(r.sessions) >= r.max {
		var oldest *session
		for _, sess := range r.sessions {
			if sess.refs == 0 && (oldest == nil || sess.lastUsed.Before(oldest.lastUsed)) {
				oldest = sess
			}
		}
		if oldest == nil {
			return
		}
		delete(r.sessions, oldest.id)
		r.recorder.SessionEvicted()
	}
}

func (r *sessionRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

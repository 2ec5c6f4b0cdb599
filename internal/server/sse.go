package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/resume-tailor/internal/events"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter sets the event-stream headers on w.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends one event with a JSON data line.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// subscriberBuffer is how many events a slow stream may lag before events
// are dropped for it.
const subscriberBuffer = 16

// streamHub fans committed transitions out to the event streams open for a
// session, so other tabs of the same session follow along.
type streamHub struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]map[chan events.Message]struct{}
	closed bool
}

func newStreamHub() *streamHub {
	return &streamHub{subs: make(map[uuid.UUID]map[chan events.Message]struct{})}
}

// subscribe registers a stream for sessionID. The channel is closed by
// cancel or when the hub shuts down.
func (h *streamHub) subscribe(sessionID uuid.UUID) (<-chan events.Message, func()) {
	ch := make(chan events.Message, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan events.Message]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sessionID][ch]; ok {
				delete(h.subs[sessionID], ch)
				if len(h.subs[sessionID]) == 0 {
					delete(h.subs, sessionID)
				}
				close(ch)
			}
		})
	}
}

// observer publishes the committed events of sessionID to its streams.
func (h *streamHub) observer(sessionID uuid.UUID) wizard.Observer {
	return wizard.ObserverFunc(func(e wizard.Event) {
		if e.Err != nil {
			return
		}
		msg, err := events.NewMessage(sessionID.String(), e)
		if err != nil {
			log.Printf("[server] failed to encode %s event: %v", e.Op, err)
			return
		}

		h.mu.Lock()
		defer h.mu.Unlock()
		for ch := range h.subs[sessionID] {
			select {
			case ch <- msg:
			default:
				log.Printf("[server] dropping %s event for slow stream of session %s", e.Op, sessionID)
			}
		}
	})
}

// closeAll ends every open stream.
func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, chans := range h.subs {
		for ch := range chans {
			close(ch)
		}
		delete(h.subs, id)
	}
}

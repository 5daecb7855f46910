// Package notify fans session events out to connected listeners.
package notify

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Event types.
const (
	TypeContext         = "context"
	TypeUpdate          = "update"
	TypeSearchCompleted = "search_completed"
	TypeSearchError     = "search_error"
	TypeSearchResults   = "search_results"
	TypeContextEnriched = "context_enriched"
)

// Event is the envelope delivered to listeners.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Listener receives events for one session.
type Listener interface {
	ID() string
	Send(Event) error
	Close() error
}

// Hub is a per-session listener registry.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string][]Listener

	pool   *ants.Pool
	now    func() time.Time
	logger *slog.Logger
}

// DefaultWorkers is the fan-out pool size when none is configured.
const DefaultWorkers = 16

// NewHub creates a Hub whose deliveries run on a pool of the given size.
func NewHub(workers int, logger *slog.Logger) (*Hub, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("creating notify pool: %w", err)
	}
	return &Hub{
		listeners: make(map[string][]Listener),
		pool:      pool,
		now:       time.Now,
		logger:    logger.With("component", "notify"),
	}, nil
}

// Register adds l to the session's listener list.
func (h *Hub) Register(sessionID string, l Listener) {
	h.mu.Lock()
	h.listeners[sessionID] = append(h.listeners[sessionID], l)
	n := len(h.listeners[sessionID])
	h.mu.Unlock()
	h.logger.Debug("listener registered", "session_id", sessionID, "listener", l.ID(), "count", n)
}

// Unregister removes the listener with the given id. The session entry is
// dropped with its last listener. It reports whether anything was removed.
func (h *Hub) Unregister(sessionID, listenerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ls := h.listeners[sessionID]
	for i, l := range ls {
		if l.ID() != listenerID {
			continue
		}
		rest := make([]Listener, 0, len(ls)-1)
		rest = append(rest, ls[:i]...)
		rest = append(rest, ls[i+1:]...)
		if len(rest) == 0 {
			delete(h.listeners, sessionID)
		} else {
			h.listeners[sessionID] = rest
		}
		return true
	}
	return false
}

// Count returns the number of listeners for a session.
func (h *Hub) Count(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[sessionID])
}

// Sessions returns the number of sessions with at least one listener.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Broadcast delivers ev to every listener of the session concurrently and
// waits for all deliveries. Failures are logged and skipped. It returns the
// number of successful deliveries.
func (h *Hub) Broadcast(sessionID string, ev Event) int {
	h.mu.RLock()
	snapshot := append([]Listener(nil), h.listeners[sessionID]...)
	h.mu.RUnlock()
	if len(snapshot) == 0 {
		return 0
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now()
	}

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for _, l := range snapshot {
		l := l
		deliver := func() {
			defer wg.Done()
			if err := l.Send(ev); err != nil {
				h.logger.Warn("event delivery failed",
					"session_id", sessionID, "listener", l.ID(), "type", ev.Type, "error", err)
				return
			}
			ok.Add(1)
		}
		wg.Add(1)
		if err := h.pool.Submit(deliver); err != nil {
			// Pool closed or saturated in non-blocking mode: deliver inline.
			deliver()
		}
	}
	wg.Wait()
	return int(ok.Load())
}

// Notify broadcasts an event of the given type.
func (h *Hub) Notify(sessionID, typ string, data any) int {
	return h.Broadcast(sessionID, Event{Type: typ, Data: data})
}

// Update wraps data in an "update" event.
func (h *Hub) Update(sessionID string, data any) int {
	return h.Notify(sessionID, TypeUpdate, data)
}

// Close closes every listener and releases the pool.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.listeners
	h.listeners = make(map[string][]Listener)
	h.mu.Unlock()

	for _, ls := range all {
		for _, l := range ls {
			_ = l.Close()
		}
	}
	h.pool.Release()
}


// Package session keeps per-session conversation state in memory.
//
// A Store is safe for concurrent use. Operations on one session are
// serialized by that session's mutex; different sessions never contend.
package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/scout/internal/apperr"
)

// Message is one history entry. It is immutable once appended.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Context is a snapshot of a session.
type Context struct {
	SessionID string         `json:"session_id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"timestamp"`
	History   []Message      `json:"query_history"`
	Current   map[string]any `json:"current_context"`
	Metadata  map[string]any `json:"metadata"`
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry struct {
	mu       sync.Mutex
	ctx      Context
	lastSeen time.Time
	removed  bool
}

// Store maps session ids to contexts.
type Store struct {
	entries sync.Map // string -> *entry
	clock   Clock
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Store) { s.clock = c } }

// WithTTL evicts sessions idle longer than ttl on Sweep. Zero keeps sessions
// until Clear.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{clock: realClock{}, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// notFound is the error every operation returns for an unknown session.
func notFound(op, id string) error {
	return apperr.E(apperr.KindSessionNotFound, op, fmt.Errorf("session %q not found", id))
}

// GetOrCreate returns a snapshot of the session, creating it if needed.
// created reports whether this call made it. Concurrent callers for the same
// unseen id observe exactly one creation.
func (s *Store) GetOrCreate(id string) (c Context, created bool) {
	for {
		now := s.clock.Now()
		fresh := &entry{
			ctx: Context{
				SessionID: id,
				CreatedAt: now,
				UpdatedAt: now,
				Current:   map[string]any{},
				Metadata:  map[string]any{},
			},
			lastSeen: now,
		}
		v, loaded := s.entries.LoadOrStore(id, fresh)
		e := v.(*entry)
		e.mu.Lock()
		if e.removed {
			// Lost a race with Clear or Sweep; the map slot is already gone.
			e.mu.Unlock()
			continue
		}
		e.lastSeen = maxTime(e.lastSeen, now)
		snap := e.ctx.clone()
		e.mu.Unlock()
		if !loaded {
			s.logger.Debug("session created", "session_id", id)
		}
		return snap, !loaded
	}
}

// with runs fn under the session lock. It fails with KindSessionNotFound if
// the session does not exist or was removed concurrently.
func (s *Store) with(op, id string, fn func(e *entry, now time.Time)) error {
	v, ok := s.entries.Load(id)
	if !ok {
		return notFound(op, id)
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return notFound(op, id)
	}
	now := s.clock.Now()
	e.lastSeen = maxTime(e.lastSeen, now)
	fn(e, now)
	return nil
}

// Get returns a copy of the session. Mutating the copy never affects the store.
func (s *Store) Get(id string) (Context, error) {
	var c Context
	err := s.with("session.get", id, func(e *entry, _ time.Time) {
		c = e.ctx.clone()
	})
	return c, err
}

// Update merges partial into the current context, last write wins per key.
func (s *Store) Update(id string, partial map[string]any) error {
	return s.with("session.update", id, func(e *entry, now time.Time) {
		for k, v := range partial {
			e.ctx.Current[k] = cloneValue(v)
		}
		e.ctx.UpdatedAt = maxTime(e.ctx.UpdatedAt, now)
	})
}

// AppendHistory appends msg, stamping it under the session lock. Stamps never
// go backwards even if the clock does.
func (s *Store) AppendHistory(id string, msg Message) error {
	return s.with("session.append", id, func(e *entry, now time.Time) {
		ts := now
		if n := len(e.ctx.History); n > 0 {
			ts = maxTime(ts, e.ctx.History[n-1].Timestamp)
		}
		msg.Timestamp = ts
		msg.Context = cloneMap(msg.Context)
		e.ctx.History = append(e.ctx.History, msg)
	})
}

type formatted struct {
	SessionID string         `json:"session_id"`
	Timestamp string         `json:"timestamp"`
	Current   map[string]any `json:"current_context"`
	Metadata  map[string]any `json:"metadata"`
}

// Format renders the prompt view of a session as indented JSON.
func (s *Store) Format(id string) ([]byte, error) {
	var view formatted
	err := s.with("session.format", id, func(e *entry, _ time.Time) {
		view = formatted{
			SessionID: e.ctx.SessionID,
			Timestamp: e.ctx.UpdatedAt.Format(time.RFC3339Nano),
			Current:   cloneMap(e.ctx.Current),
			Metadata:  cloneMap(e.ctx.Metadata),
		}
	})
	if err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return nil, apperr.E(apperr.KindInternal, "session.format", err)
	}
	return b, nil
}

// compressKeys are the context keys that survive Compress.
var compressKeys = []string{"current_query", "search_results", "generated_suggestions"}

// Compress returns a reduced view holding only the query, results and
// suggestions from the current context.
func (s *Store) Compress(id string) (map[string]any, error) {
	var out map[string]any
	err := s.with("session.compress", id, func(e *entry, _ time.Time) {
		cur := make(map[string]any, len(compressKeys))
		for _, k := range compressKeys {
			if v, ok := e.ctx.Current[k]; ok {
				cur[k] = cloneValue(v)
			}
		}
		out = map[string]any{
			"session_id":      e.ctx.SessionID,
			"current_context": cur,
			"metadata":        cloneMap(e.ctx.Metadata),
		}
	})
	return out, err
}

// Initialize creates the session if needed and records its capabilities.
func (s *Store) Initialize(id string) (Context, error) {
	s.GetOrCreate(id)
	err := s.Update(id, map[string]any{
		"capabilities": map[string]any{
			"web_browsing":        true,
			"real_time_updates":   true,
			"context_compression": true,
		},
		"session_start_time": s.clock.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Context{}, err
	}
	return s.Get(id)
}

// Clear removes a session. It reports whether one was removed.
func (s *Store) Clear(id string) bool {
	v, ok := s.entries.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return false
	}
	e.removed = true
	s.entries.CompareAndDelete(id, e)
	return true
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Sweep evicts sessions idle since before now-ttl and returns how many it
// removed. It is a no-op when no TTL is configured.
func (s *Store) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)
	evicted := 0
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed && e.lastSeen.Before(cutoff) {
			e.removed = true
			s.entries.CompareAndDelete(k, e)
			evicted++
		}
		e.mu.Unlock()
		return true
	})
	if evicted > 0 {
		s.logger.Info("evicted idle sessions", "count", evicted, "ttl", s.ttl)
	}
	return evicted
}

func (c Context) clone() Context {
	out := c
	out.Current = cloneMap(c.Current)
	out.Metadata = cloneMap(c.Metadata)
	if c.History != nil {
		out.History = make([]Message, len(c.History))
		for i, m := range c.History {
			m.Context = cloneMap(m.Context)
			out.History[i] = m
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the generic JSON container types. Other values are shared.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

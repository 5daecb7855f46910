package session

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/scout/internal/apperr"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestStore(opts ...Option) (*Store, *mockClock) {
	clk := &mockClock{now: t0}
	return NewStore(append([]Option{WithClock(clk)}, opts...)...), clk
}

func TestGetOrCreate(t *testing.T) {
	s, _ := newTestStore()

	c, created := s.GetOrCreate("abc")
	assert.True(t, created)
	assert.Equal(t, "abc", c.SessionID)
	assert.Equal(t, t0, c.CreatedAt)
	assert.Empty(t, c.Current)

	_, created = s.GetOrCreate("abc")
	assert.False(t, created)
	assert.Equal(t, 1, s.Len())
}

func TestGetOrCreate_ConcurrentCreatesOnce(t *testing.T) {
	s, _ := newTestStore()

	const n = 64
	var creations atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, created := s.GetOrCreate("shared"); created {
				creations.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), creations.Load())
	assert.Equal(t, 1, s.Len())
}

func TestUpdate_Merges(t *testing.T) {
	s, clk := newTestStore()
	s.GetOrCreate("abc")

	require.NoError(t, s.Update("abc", map[string]any{"a": 1}))
	clk.Advance(time.Second)
	require.NoError(t, s.Update("abc", map[string]any{"b": 2}))

	c, err := s.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, c.Current)
	assert.Equal(t, t0.Add(time.Second), c.UpdatedAt)

	require.NoError(t, s.Update("abc", map[string]any{"a": "x"}))
	c, _ = s.Get("abc")
	assert.Equal(t, "x", c.Current["a"])
}

func TestMissingSessionIsUniform(t *testing.T) {
	s, _ := newTestStore()

	_, err := s.Get("nope")
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))
	assert.True(t, apperr.Is(s.Update("nope", map[string]any{"a": 1}), apperr.KindSessionNotFound))
	assert.True(t, apperr.Is(s.AppendHistory("nope", Message{Role: "user"}), apperr.KindSessionNotFound))
	_, err = s.Format("nope")
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))
	_, err = s.Compress("nope")
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))

	assert.False(t, s.Clear("nope"))
	assert.Equal(t, 0, s.Len(), "failed operations must not create sessions")
}

func TestAppendHistory_MonotonicTimestamps(t *testing.T) {
	s, clk := newTestStore()
	s.GetOrCreate("abc")

	require.NoError(t, s.AppendHistory("abc", Message{Role: "observation", Content: "one"}))
	clk.Set(t0.Add(-time.Minute)) // clock steps backwards
	require.NoError(t, s.AppendHistory("abc", Message{Role: "thought", Content: "two"}))
	clk.Set(t0.Add(time.Minute))
	require.NoError(t, s.AppendHistory("abc", Message{Role: "assistant", Content: "three"}))

	c, err := s.Get("abc")
	require.NoError(t, err)
	require.Len(t, c.History, 3)
	assert.Equal(t, "one", c.History[0].Content)
	assert.Equal(t, "three", c.History[2].Content)
	for i := 1; i < len(c.History); i++ {
		assert.False(t, c.History[i].Timestamp.Before(c.History[i-1].Timestamp))
	}
}

func TestAppendHistory_Concurrent(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("abc")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendHistory("abc", Message{Role: "user", Content: "hi"})
			_ = s.Update("abc", map[string]any{"k": 1})
		}()
	}
	wg.Wait()

	c, err := s.Get("abc")
	require.NoError(t, err)
	assert.Len(t, c.History, 100)
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("abc")
	require.NoError(t, s.Update("abc", map[string]any{
		"nested": map[string]any{"x": 1},
	}))
	require.NoError(t, s.AppendHistory("abc", Message{Role: "user"}))

	c, _ := s.Get("abc")
	c.Current["injected"] = true
	c.Current["nested"].(map[string]any)["x"] = 99
	c.History[0].Content = "tampered"

	again, _ := s.Get("abc")
	assert.NotContains(t, again.Current, "injected")
	assert.Equal(t, 1, again.Current["nested"].(map[string]any)["x"])
	assert.Empty(t, again.History[0].Content)
}

func TestFormat(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("abc")
	require.NoError(t, s.Update("abc", map[string]any{"current_query": "roofers"}))

	b, err := s.Format("abc")
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "abc", m["session_id"])
	assert.Equal(t, t0.Format(time.RFC3339Nano), m["timestamp"])
	assert.Equal(t, map[string]any{"current_query": "roofers"}, m["current_context"])
	assert.Contains(t, string(b), "\n  \"session_id\"")
}

func TestCompress(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("abc")
	require.NoError(t, s.Update("abc", map[string]any{
		"current_query":         "roofers",
		"search_results":        []any{"a"},
		"generated_suggestions": []any{},
		"final_answer":          "long text",
	}))

	got, err := s.Compress("abc")
	require.NoError(t, err)
	cur := got["current_context"].(map[string]any)
	assert.Len(t, cur, 3)
	assert.NotContains(t, cur, "final_answer")
	assert.Equal(t, "abc", got["session_id"])
}

func TestInitialize(t *testing.T) {
	s, _ := newTestStore()

	c, err := s.Initialize("fresh")
	require.NoError(t, err)
	caps := c.Current["capabilities"].(map[string]any)
	assert.Equal(t, true, caps["web_browsing"])
	assert.Equal(t, t0.Format(time.RFC3339Nano), c.Current["session_start_time"])
}

func TestClear(t *testing.T) {
	s, _ := newTestStore()
	s.GetOrCreate("abc")

	assert.True(t, s.Clear("abc"))
	assert.False(t, s.Clear("abc"))
	_, err := s.Get("abc")
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))

	_, created := s.GetOrCreate("abc")
	assert.True(t, created)
}

func TestSweep(t *testing.T) {
	s, clk := newTestStore(WithTTL(10 * time.Minute))
	s.GetOrCreate("idle")
	clk.Advance(8 * time.Minute)
	s.GetOrCreate("busy")
	clk.Advance(4 * time.Minute)
	require.NoError(t, s.Update("busy", map[string]any{"a": 1}))

	assert.Equal(t, 1, s.Sweep(clk.Now()))
	_, err := s.Get("idle")
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))
	_, err = s.Get("busy")
	assert.NoError(t, err)
}

func TestSweep_DisabledWithoutTTL(t *testing.T) {
	s, clk := newTestStore()
	s.GetOrCreate("abc")
	assert.Equal(t, 0, s.Sweep(clk.Now().Add(24*time.Hour)))
	assert.Equal(t, 1, s.Len())
}

func TestStartSweeper(t *testing.T) {
	s, _ := newTestStore()
	w, err := StartSweeper(s, "@every 1m")
	require.NoError(t, err)
	assert.Nil(t, w)
	w.Stop()

	s, _ = newTestStore(WithTTL(time.Minute))
	_, err = StartSweeper(s, "not a schedule")
	assert.Error(t, err)

	w, err = StartSweeper(s, "@every 1h")
	require.NoError(t, err)
	w.Stop()
}

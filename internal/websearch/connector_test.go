package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/notify"
	"github.com/kalambet/scout/internal/session"
)

type event struct {
	typ  string
	data any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingNotifier) Notify(_ string, typ string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{typ, data})
	return 1
}

type stubProvider struct {
	res   Results
	err   error
	calls int
	gotN  int
}

func (s *stubProvider) Search(_ context.Context, query string, n int) (Results, error) {
	s.calls++
	s.gotN = n
	if s.err != nil {
		return Results{}, s.err
	}
	r := s.res
	r.Query = query
	return r, nil
}

func TestGoogleCSE(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{"key": q.Get("key"), "cx": q.Get("cx"), "q": q.Get("q"), "num": q.Get("num")}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"searchInformation": map[string]any{"totalResults": "1200", "searchTime": 0.31},
			"items": []map[string]any{
				{"title": "Shore Roofing", "link": "https://shore.example", "snippet": "Since 2001",
					"displayLink": "shore.example", "mime": "text/html", "pagemap": map[string]any{"k": "v"}},
				{"title": "Bare", "link": "https://bare.example"},
			},
		})
	}))
	defer srv.Close()

	p := NewGoogleCSE("k-123", "cx-9").WithEndpoint(srv.URL)
	res, err := p.Search(context.Background(), "roofers nj", 5)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"key": "k-123", "cx": "cx-9", "q": "roofers nj", "num": "5"}, got)
	assert.Equal(t, "1200", res.TotalResults)
	assert.Equal(t, 0.31, res.SearchTime)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "https://shore.example", res.Results[0].URL)
	assert.Equal(t, "shore.example", res.Results[0].Source)
	assert.Equal(t, "text/html", res.Results[0].Metadata.Mime)
	assert.NotNil(t, res.Results[1].Metadata.Pagemap)
}

func TestGoogleCSE_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGoogleCSE("k", "cx").WithEndpoint(srv.URL).Search(context.Background(), "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "quota")
}

func TestConnector_Success(t *testing.T) {
	store := session.NewStore()
	n := &recordingNotifier{}
	p := &stubProvider{res: Results{TotalResults: "2", SearchTime: 0.1, Results: []Result{{Title: "a"}, {Title: "b"}}}}
	c := NewConnector(p, store, n, Config{})

	res, err := c.Search(context.Background(), "roofers", "s1")
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	assert.Equal(t, DefaultResults, p.gotN)

	ctx, err := store.Get("s1")
	require.NoError(t, err, "search creates the session")
	assert.Contains(t, ctx.Current, "web_search_results")
	assert.Contains(t, ctx.Current, "last_search_time")
	meta := ctx.Current["search_metadata"].(map[string]any)
	assert.Equal(t, "2", meta["total_results"])

	require.Len(t, n.events, 1)
	assert.Equal(t, notify.TypeSearchCompleted, n.events[0].typ)
	assert.Equal(t, 2, n.events[0].data.(map[string]any)["result_count"])
}

func TestConnector_FailureNotifiesThenErrors(t *testing.T) {
	store := session.NewStore()
	n := &recordingNotifier{}
	c := NewConnector(&stubProvider{err: errors.New("connection refused")}, store, n, Config{})

	_, err := c.Search(context.Background(), "roofers", "s1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindExternalSearch))

	require.Len(t, n.events, 1)
	assert.Equal(t, notify.TypeSearchError, n.events[0].typ)
	assert.Contains(t, n.events[0].data.(map[string]any)["error"], "connection refused")
	assert.Equal(t, 0, store.Len(), "failed searches leave no session behind")
}

func TestConnector_NotConfigured(t *testing.T) {
	n := &recordingNotifier{}
	c := NewConnector(nil, session.NewStore(), n, Config{})

	_, err := c.Search(context.Background(), "q", "s1")
	assert.True(t, apperr.Is(err, apperr.KindExternalSearch))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, notify.TypeSearchError, n.events[0].typ)
}

func TestConnector_RateLimitHonorsContext(t *testing.T) {
	p := &stubProvider{}
	c := NewConnector(p, session.NewStore(), &recordingNotifier{}, Config{RatePerMinute: 1})

	_, err := c.Search(context.Background(), "first", "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Search(ctx, "second", "s1")
	assert.True(t, apperr.Is(err, apperr.KindExternalSearch))
	assert.Equal(t, 1, p.calls)
}

func TestEnrich(t *testing.T) {
	store := session.NewStore()
	n := &recordingNotifier{}
	c := NewConnector(nil, store, n, Config{})

	err := c.Enrich("missing", map[string]any{"a": 1})
	assert.True(t, apperr.Is(err, apperr.KindSessionNotFound))
	assert.Empty(t, n.events)

	store.GetOrCreate("s1")
	require.NoError(t, c.Enrich("s1", map[string]any{"crm_id": "42"}))
	ctx, _ := store.Get("s1")
	assert.Equal(t, map[string]any{"crm_id": "42"}, ctx.Current["enriched_data"])
	assert.Equal(t, notify.TypeContextEnriched, n.events[0].typ)
}

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/engine"
	"github.com/kalambet/scout/internal/reranking"
	"github.com/kalambet/scout/internal/retrieval"
	"github.com/kalambet/scout/internal/session"
)

var now = time.Date(2025, 6, 2, 15, 4, 5, 0, time.UTC)

// --- fakes ---

type fakeRanker struct {
	docs []reranking.Ranked
	err  error
	gotK int
}

func (f *fakeRanker) Rank(_ context.Context, _ string, k int) ([]reranking.Ranked, error) {
	f.gotK = k
	return f.docs, f.err
}

type call struct {
	prompt string
	opts   engine.CompleteOptions
}

type fakeOracle struct {
	mu      sync.Mutex
	calls   []call
	replies []string
	errAt   int // 1-based call number that fails; 0 never
}

func (f *fakeOracle) Complete(_ context.Context, prompt string, opts engine.CompleteOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{prompt, opts})
	n := len(f.calls)
	if n == f.errAt {
		return "", errors.New("upstream 503")
	}
	if n <= len(f.replies) {
		return f.replies[n-1], nil
	}
	return "ok", nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	stages []string
}

func (r *recordingNotifier) Update(_ string, data any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, data.(map[string]any)["stage"].(string))
	return 1
}

func fixtureDocs() []reranking.Ranked {
	return []reranking.Ranked{
		{Document: retrieval.Document{ID: 3, SourceURL: "https://shore.example", Contractor: retrieval.Contractor{
			Name: "Shore Roofing", Address: "Toms River, NJ", Phone: "732-555-0101", AboutUs: "Family owned",
		}}, Similarity: 0.8, Relevance: 0.7},
		{Document: retrieval.Document{ID: 0, SourceURL: "https://gsr.example", Contractor: retrieval.Contractor{
			Name: "Garden State Roofing", Address: "Newark, NJ",
		}}, Similarity: 0.6, Relevance: 0.5},
	}
}

func newTestAgent(r Ranker, o Oracle, opts ...Option) (*Agent, *session.Store, *recordingNotifier) {
	store := session.NewStore()
	n := &recordingNotifier{}
	base := []Option{
		WithNotifier(n),
		WithSignals(StaticSignals{Activity: 0.9, DaysSinceContact: 20, Jitter: 0}),
		WithClock(func() time.Time { return now }),
	}
	return New(r, o, store, append(base, opts...)...), store, n
}

// --- pipeline ---

func TestRun_HappyPath(t *testing.T) {
	r := &fakeRanker{docs: fixtureDocs()}
	o := &fakeOracle{replies: []string{"analysis text", "call Shore Roofing tomorrow"}}
	a, store, n := newTestAgent(r, o)

	ans, err := a.Run(context.Background(), "s1", "roofers in New Jersey")
	require.NoError(t, err)

	assert.Equal(t, DefaultTopK, r.gotK)
	assert.Equal(t, "call Shore Roofing tomorrow", ans.Answer)
	assert.Equal(t, "analysis text", ans.Reasoning)
	require.Len(t, ans.Suggestions, 2)
	assert.Equal(t, TypeHighActivity, ans.Suggestions[0].Type)
	assert.Len(t, ans.Docs, 2)
	assert.Equal(t, "s1", ans.SessionContext.SessionID)
	assert.Equal(t, []string{"observing", "thinking", "acting"}, n.stages)

	// The Act call carries the response sampling settings.
	require.Len(t, o.calls, 2)
	assert.Equal(t, 512, o.calls[1].opts.MaxTokens)
	require.NotNil(t, o.calls[1].opts.Temperature)
	assert.Equal(t, 0.7, *o.calls[1].opts.Temperature)
	assert.Nil(t, o.calls[0].opts.Temperature)

	c, err := store.Get("s1")
	require.NoError(t, err)
	require.Len(t, c.History, 3)
	assert.Equal(t, "observation", c.History[0].Role)
	assert.Equal(t, "thought", c.History[1].Role)
	assert.Equal(t, "assistant", c.History[2].Role)
	assert.Equal(t, "roofers in New Jersey", c.Current["current_query"])
	assert.Equal(t, "call Shore Roofing tomorrow", c.Current["final_answer"])
	assert.Contains(t, c.Current, "generated_suggestions")
	assert.Contains(t, c.Current, "observation_time")
}

func TestRun_PromptsCarryContext(t *testing.T) {
	o := &fakeOracle{replies: []string{"REASONING-MARK", "done"}}
	a, _, _ := newTestAgent(&fakeRanker{docs: fixtureDocs()}, o)

	_, err := a.Run(context.Background(), "s1", "who should we call")
	require.NoError(t, err)

	analysis := o.calls[0].prompt
	assert.Contains(t, analysis, "Query: who should we call")
	assert.Contains(t, analysis, "Name: Shore Roofing\nAbout: Family owned\nAddress: Toms River, NJ\nPhone: 732-555-0101\nURL: https://shore.example")
	assert.Contains(t, analysis, "- Garden State Roofing")

	response := o.calls[1].prompt
	assert.Contains(t, response, "Sales team question: who should we call")
	assert.Contains(t, response, "REASONING-MARK")
	assert.Contains(t, response, `"type": "high_activity"`)
}

func TestRun_PromptsCarrySessionContext(t *testing.T) {
	o := &fakeOracle{replies: []string{"analysis", "done"}}
	a, store, _ := newTestAgent(&fakeRanker{docs: fixtureDocs()}, o)

	store.GetOrCreate("s1")
	require.NoError(t, store.Update("s1", map[string]any{
		"web_search_results": []map[string]any{{"title": "WEB-RESULT-MARK", "link": "https://news.example/roofing"}},
	}))

	_, err := a.Run(context.Background(), "s1", "roofers in New Jersey")
	require.NoError(t, err)
	require.Len(t, o.calls, 2)

	for i, c := range o.calls {
		assert.Contains(t, c.prompt, "Session context:", "call %d", i+1)
		assert.Contains(t, c.prompt, "WEB-RESULT-MARK", "call %d", i+1)
		assert.Contains(t, c.prompt, `"session_id": "s1"`, "call %d", i+1)
	}
	// Act sees what Think wrote back to the session.
	assert.Contains(t, o.calls[1].prompt, `"reasoning": "analysis"`)
}

func TestRun_ObserveFailure(t *testing.T) {
	r := &fakeRanker{err: errors.New("embedding backend down")}
	o := &fakeOracle{}
	a, _, n := newTestAgent(r, o)

	_, err := a.Run(context.Background(), "s1", "q")
	assert.True(t, apperr.Is(err, apperr.KindRetrieval))
	assert.Empty(t, o.calls)
	assert.Empty(t, n.stages)
}

func TestRun_ThinkFailure(t *testing.T) {
	o := &fakeOracle{errAt: 1}
	a, store, _ := newTestAgent(&fakeRanker{docs: fixtureDocs()}, o)

	_, err := a.Run(context.Background(), "s1", "q")
	assert.True(t, apperr.Is(err, apperr.KindOracle))
	assert.Len(t, o.calls, 1)

	c, _ := store.Get("s1")
	assert.NotContains(t, c.Current, "reasoning")
}

func TestRun_ActFailureIsTyped(t *testing.T) {
	o := &fakeOracle{errAt: 2}
	a, store, _ := newTestAgent(&fakeRanker{docs: fixtureDocs()}, o)

	ans, err := a.Run(context.Background(), "s1", "q")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindOracle))
	assert.Contains(t, err.Error(), "agent.act")
	assert.Empty(t, ans.Answer)

	c, _ := store.Get("s1")
	assert.NotContains(t, c.Current, "final_answer")
}

func TestRun_EmptyQuery(t *testing.T) {
	a, store, _ := newTestAgent(&fakeRanker{}, &fakeOracle{})
	_, err := a.Run(context.Background(), "s1", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
	assert.Equal(t, 0, store.Len())
}

func TestRun_SeededSignalsAreReproducible(t *testing.T) {
	run := func() []Suggestion {
		a, _, _ := newTestAgent(&fakeRanker{docs: fixtureDocs()}, &fakeOracle{},
			WithSignals(NewRandomSignals(42)))
		ans, err := a.Run(context.Background(), "s", "q")
		require.NoError(t, err)
		return ans.Suggestions
	}
	assert.Equal(t, run(), run())
}

// --- classifier ---

func TestClassify(t *testing.T) {
	withPhone := retrieval.Document{SourceURL: "https://a.example", Contractor: retrieval.Contractor{Name: "A", Phone: "555"}}
	noPhone := retrieval.Document{SourceURL: "https://b.example", Contractor: retrieval.Contractor{Name: "B"}}

	tests := []struct {
		name     string
		doc      retrieval.Document
		sig      Signal
		typ      string
		priority string
		action   string
		minDays  int
		maxDays  int
	}{
		{"high activity", withPhone, Signal{Activity: 0.81, DaysSinceContact: 30}, TypeHighActivity, "high", "contact", 1, 3},
		{"stale contact", withPhone, Signal{Activity: 0.8, DaysSinceContact: 15}, TypeFollowUp, "medium", "follow_up", 1, 7},
		{"regular", noPhone, Signal{Activity: 0.5, DaysSinceContact: 14}, TypeRegularFollowUp, "low", "schedule_meeting", 7, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, j := range []float64{0, 0.5, 0.999999} {
				tt.sig.Jitter = j
				s := Classify(tt.doc, tt.sig, now)
				assert.Equal(t, tt.typ, s.Type)
				assert.Equal(t, tt.priority, s.Priority)
				assert.Equal(t, tt.action, s.Action)

				d, err := time.Parse(time.DateOnly, s.SuggestedDate)
				require.NoError(t, err)
				days := int(d.Sub(now.Truncate(24*time.Hour)).Hours() / 24)
				assert.GreaterOrEqual(t, days, tt.minDays)
				assert.LessOrEqual(t, days, tt.maxDays)
			}
		})
	}
}

func TestClassify_ContactDetails(t *testing.T) {
	s := Classify(retrieval.Document{Contractor: retrieval.Contractor{Name: "A", Phone: "555"}}, Signal{Activity: 0.9}, now)
	assert.Equal(t, "phone", s.Details.ContactMethod)
	assert.Equal(t, "555", s.Details.ContactInfo)
	require.NotNil(t, s.Details.ActivityScore)
	assert.Equal(t, 0.9, *s.Details.ActivityScore)

	s = Classify(retrieval.Document{SourceURL: "https://b.example", Contractor: retrieval.Contractor{Name: "B"}}, Signal{Activity: 0.6, DaysSinceContact: 20}, now)
	assert.Equal(t, "email", s.Details.ContactMethod)
	assert.Equal(t, "https://b.example", s.Details.ContactInfo)
	assert.Nil(t, s.Details.ActivityScore)
	assert.Equal(t, "no contact for 20 days", s.Reason)
}

func TestRandomSignalsRange(t *testing.T) {
	p := NewRandomSignals(7)
	for i := 0; i < 1000; i++ {
		s := p.Signal(retrieval.Document{})
		require.GreaterOrEqual(t, s.Activity, 0.5)
		require.LessOrEqual(t, s.Activity, 1.0)
		require.GreaterOrEqual(t, s.DaysSinceContact, 0)
		require.LessOrEqual(t, s.DaysSinceContact, 30)
		require.Less(t, s.Jitter, 1.0)
	}
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "observing", StageObserving.String())
	assert.Equal(t, "failed", StageFailed.String())
	assert.Equal(t, "unknown", Stage(42).String())
}

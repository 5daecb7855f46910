// Package agent runs the observe → think → act pipeline for one query.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/engine"
	"github.com/kalambet/scout/internal/reranking"
	"github.com/kalambet/scout/internal/session"
)

// DefaultTopK is the number of documents observed per query.
const DefaultTopK = 3

// Oracle turns a prompt into text. engine.Oracle satisfies it.
type Oracle interface {
	Complete(ctx context.Context, prompt string, opts engine.CompleteOptions) (string, error)
}

// Ranker produces the ranked documents for a query.
type Ranker interface {
	Rank(ctx context.Context, query string, topK int) ([]reranking.Ranked, error)
}

// Sessions is the slice of session.Store the pipeline writes to.
type Sessions interface {
	GetOrCreate(id string) (session.Context, bool)
	Get(id string) (session.Context, error)
	Update(id string, partial map[string]any) error
	AppendHistory(id string, msg session.Message) error
	Format(id string) ([]byte, error)
}

// Notifier receives stage progress events.
type Notifier interface {
	Update(sessionID string, data any) int
}

// Observation is what the Observe stage saw.
type Observation struct {
	Query       string
	Context     string
	Docs        []reranking.Ranked
	CurrentTime time.Time
}

// Thought is the Think stage output.
type Thought struct {
	Reasoning   string
	NextAction  string
	Suggestions []Suggestion
}

// Result is the Act stage output.
type Result struct {
	Output      string
	Suggestions []Suggestion
}

// Answer is the pipeline's final output.
type Answer struct {
	Answer         string             `json:"answer"`
	Reasoning      string             `json:"reasoning"`
	Suggestions    []Suggestion       `json:"suggestions"`
	Docs           []reranking.Ranked `json:"docs"`
	SessionContext session.Context    `json:"session_context"`
}

// Agent owns the collaborators of the pipeline. It holds no per-query state
// and is safe for concurrent Run calls.
type Agent struct {
	ranker   Ranker
	oracle   Oracle
	sessions Sessions
	notifier Notifier
	signals  SignalProvider
	topK     int
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithSignals replaces the signal provider.
func WithSignals(p SignalProvider) Option { return func(a *Agent) { a.signals = p } }

// WithNotifier sets where stage updates are broadcast.
func WithNotifier(n Notifier) Option { return func(a *Agent) { a.notifier = n } }

// WithTopK overrides the number of observed documents.
func WithTopK(k int) Option { return func(a *Agent) { a.topK = k } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(a *Agent) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *Agent) { a.logger = l } }

// New creates an Agent. Signals default to a RandomSignals seeded with 1.
func New(ranker Ranker, oracle Oracle, sessions Sessions, opts ...Option) *Agent {
	a := &Agent{
		ranker:   ranker,
		oracle:   oracle,
		sessions: sessions,
		signals:  NewRandomSignals(1),
		topK:     DefaultTopK,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With("component", "agent")
	return a
}

// Run executes one query for sessionID, creating the session if needed.
// Any stage failure aborts the run with a kinded error naming the stage.
func (a *Agent) Run(ctx context.Context, sessionID, query string) (Answer, error) {
	if query == "" {
		return Answer{}, apperr.Errorf(apperr.KindInvalid, "agent.run", "query is required")
	}
	a.sessions.GetOrCreate(sessionID)
	log := a.logger.With("session_id", sessionID)

	obs := a.observe(ctx, sessionID, query)
	if obs.Err != nil {
		return Answer{}, a.fail(log, obs.Stage, obs.Err)
	}
	th := a.think(ctx, sessionID, obs.Value)
	if th.Err != nil {
		return Answer{}, a.fail(log, th.Stage, th.Err)
	}
	res := a.act(ctx, sessionID, obs.Value, th.Value)
	if res.Err != nil {
		return Answer{}, a.fail(log, res.Stage, res.Err)
	}

	snap, err := a.sessions.Get(sessionID)
	if err != nil {
		return Answer{}, a.fail(log, StageDone, err)
	}
	log.Info("query answered", "stage", StageDone, "docs", len(obs.Value.Docs), "suggestions", len(res.Value.Suggestions))
	return Answer{
		Answer:         res.Value.Output,
		Reasoning:      th.Value.Reasoning,
		Suggestions:    res.Value.Suggestions,
		Docs:           obs.Value.Docs,
		SessionContext: snap,
	}, nil
}

func (a *Agent) fail(log *slog.Logger, at Stage, err error) error {
	log.Error("pipeline failed", "stage", at, "next", StageFailed, "kind", apperr.KindOf(err), "error", err)
	return err
}

// kinded keeps an existing apperr kind and otherwise applies fallback.
func kinded(fallback apperr.Kind, op string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.E(fallback, op, err)
}

func (a *Agent) observe(ctx context.Context, sessionID, query string) StageResult[Observation] {
	const op = "agent.observe"
	docs, err := a.ranker.Rank(ctx, query, a.topK)
	if err != nil {
		return failed[Observation](StageObserving, kinded(apperr.KindRetrieval, op, err))
	}
	obs := Observation{
		Query:       query,
		Context:     BuildContext(docs),
		Docs:        docs,
		CurrentTime: a.now(),
	}

	if err := a.sessions.AppendHistory(sessionID, session.Message{
		Role:    "observation",
		Content: obs.Context,
		Context: map[string]any{"query": query, "doc_count": len(docs)},
	}); err != nil {
		return failed[Observation](StageObserving, err)
	}
	if err := a.sessions.Update(sessionID, map[string]any{
		"current_query":    query,
		"search_results":   docs,
		"observation_time": obs.CurrentTime.Format(time.RFC3339Nano),
	}); err != nil {
		return failed[Observation](StageObserving, err)
	}
	a.notify(sessionID, StageObserving, map[string]any{"query": query, "doc_count": len(docs)})
	return ok(StageObserving, obs)
}

func (a *Agent) think(ctx context.Context, sessionID string, obs Observation) StageResult[Thought] {
	const op = "agent.think"
	suggestions := make([]Suggestion, len(obs.Docs))
	for i, d := range obs.Docs {
		suggestions[i] = Classify(d.Document, a.signals.Signal(d.Document), obs.CurrentTime)
	}

	view, err := a.sessions.Format(sessionID)
	if err != nil {
		return failed[Thought](StageThinking, err)
	}
	reasoning, err := a.oracle.Complete(ctx, BuildAnalysisPrompt(obs, view), engine.CompleteOptions{})
	if err != nil {
		return failed[Thought](StageThinking, kinded(apperr.KindOracle, op, err))
	}
	th := Thought{Reasoning: reasoning, NextAction: "generate_response", Suggestions: suggestions}

	if err := a.sessions.AppendHistory(sessionID, session.Message{Role: "thought", Content: reasoning}); err != nil {
		return failed[Thought](StageThinking, err)
	}
	if err := a.sessions.Update(sessionID, map[string]any{
		"generated_suggestions": suggestions,
		"reasoning":             reasoning,
	}); err != nil {
		return failed[Thought](StageThinking, err)
	}
	a.notify(sessionID, StageThinking, map[string]any{"suggestion_count": len(suggestions)})
	return ok(StageThinking, th)
}

// Act stage sampling.
const (
	actMaxTokens   = 512
	actTemperature = 0.7
)

func (a *Agent) act(ctx context.Context, sessionID string, obs Observation, th Thought) StageResult[Result] {
	const op = "agent.act"
	view, err := a.sessions.Format(sessionID)
	if err != nil {
		return failed[Result](StageActing, err)
	}
	prompt, err := BuildResponsePrompt(obs, th, view)
	if err != nil {
		return failed[Result](StageActing, apperr.E(apperr.KindInternal, op, err))
	}
	out, err := a.oracle.Complete(ctx, prompt, engine.CompleteOptions{
		Temperature: engine.Float(actTemperature),
		MaxTokens:   actMaxTokens,
	})
	if err != nil {
		return failed[Result](StageActing, kinded(apperr.KindOracle, op, err))
	}

	if err := a.sessions.AppendHistory(sessionID, session.Message{Role: "assistant", Content: out}); err != nil {
		return failed[Result](StageActing, err)
	}
	if err := a.sessions.Update(sessionID, map[string]any{"final_answer": out}); err != nil {
		return failed[Result](StageActing, err)
	}
	a.notify(sessionID, StageActing, map[string]any{"answer_length": len(out)})
	return ok(StageActing, Result{Output: out, Suggestions: th.Suggestions})
}

func (a *Agent) notify(sessionID string, s Stage, data map[string]any) {
	if a.notifier == nil {
		return
	}
	data["stage"] = s.String()
	a.notifier.Update(sessionID, data)
}

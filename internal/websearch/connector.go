package websearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/scout/internal/apperr"
	"github.com/kalambet/scout/internal/notify"
	"github.com/kalambet/scout/internal/session"
)

// DefaultResults is the number of results requested per search.
const DefaultResults = 5

// ErrNotConfigured is returned when no search provider has credentials.
var ErrNotConfigured = errors.New("search credentials not configured")

// Sessions is the part of session.Store the connector needs.
type Sessions interface {
	GetOrCreate(id string) (session.Context, bool)
	Update(id string, partial map[string]any) error
}

// Notifier broadcasts session events.
type Notifier interface {
	Notify(sessionID, typ string, data any) int
}

// Connector runs searches and folds the results into session context.
type Connector struct {
	provider Provider
	sessions Sessions
	notifier Notifier
	limiter  *rate.Limiter
	results  int
	now      func() time.Time
	logger   *slog.Logger
}

// Config tunes a Connector.
type Config struct {
	// Results per search; DefaultResults when zero.
	Results int
	// RatePerMinute caps provider calls. Zero means unlimited.
	RatePerMinute int
	Logger        *slog.Logger
}

// NewConnector creates a Connector. provider may be nil, in which case every
// search fails with ErrNotConfigured.
func NewConnector(provider Provider, sessions Sessions, notifier Notifier, cfg Config) *Connector {
	c := &Connector{
		provider: provider,
		sessions: sessions,
		notifier: notifier,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		results:  cfg.Results,
		now:      time.Now,
		logger:   cfg.Logger,
	}
	if c.results <= 0 {
		c.results = DefaultResults
	}
	if cfg.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "websearch")
	return c
}

// Search queries the provider and merges the results into the session,
// creating it if needed. A search_completed or search_error event is
// broadcast before Search returns.
func (c *Connector) Search(ctx context.Context, query, sessionID string) (Results, error) {
	const op = "websearch.search"

	res, err := c.search(ctx, query)
	if err != nil {
		msg := fmt.Sprintf("Web search failed: %v", err)
		c.notifier.Notify(sessionID, notify.TypeSearchError, map[string]any{"error": msg})
		c.logger.Warn("search failed", "session_id", sessionID, "query", query, "error", err)
		return Results{}, apperr.E(apperr.KindExternalSearch, op, err)
	}

	c.sessions.GetOrCreate(sessionID)
	if err := c.sessions.Update(sessionID, map[string]any{
		"web_search_results": res,
		"last_search_time":   c.now().Format(time.RFC3339Nano),
		"search_metadata": map[string]any{
			"query":         query,
			"total_results": res.TotalResults,
			"search_time":   res.SearchTime,
		},
	}); err != nil {
		return Results{}, err
	}

	c.notifier.Notify(sessionID, notify.TypeSearchCompleted, map[string]any{
		"query":        query,
		"result_count": len(res.Results),
	})
	c.logger.Debug("search completed", "session_id", sessionID, "results", len(res.Results))
	return res, nil
}

func (c *Connector) search(ctx context.Context, query string) (Results, error) {
	if c.provider == nil {
		return Results{}, ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Results{}, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return c.provider.Search(ctx, query, c.results)
}

// Enrich merges caller-supplied data into an existing session and
// broadcasts context_enriched.
func (c *Connector) Enrich(sessionID string, data map[string]any) error {
	err := c.sessions.Update(sessionID, map[string]any{
		"enriched_data":   data,
		"enrichment_time": c.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	c.notifier.Notify(sessionID, notify.TypeContextEnriched, data)
	return nil
}

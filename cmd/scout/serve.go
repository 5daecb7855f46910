package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/scout/internal/agent"
	"github.com/kalambet/scout/internal/api"
	"github.com/kalambet/scout/internal/config"
	"github.com/kalambet/scout/internal/engine"
	"github.com/kalambet/scout/internal/notify"
	"github.com/kalambet/scout/internal/reranking"
	"github.com/kalambet/scout/internal/retrieval"
	"github.com/kalambet/scout/internal/session"
	"github.com/kalambet/scout/internal/storage"
	"github.com/kalambet/scout/internal/websearch"
)

const (
	shutdownTimeout = 5 * time.Second
	oracleSystem    = "You are a B2B sales intelligence assistant that helps sales teams decide which contractors to contact and when."
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scout server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func engineConfig(cfg config.Config, provider string) engine.Config {
	return engine.Config{
		Provider:        provider,
		OllamaBaseURL:   cfg.Ollama.BaseURL,
		OllamaKeepAlive: cfg.Ollama.KeepAlive,
		OpenAIBaseURL:   cfg.OpenAI.BaseURL,
		OpenAIAPIKey:    cfg.OpenAI.APIKey,
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		GeminiAPIKey:    cfg.Gemini.APIKey,
		EmbeddingModel:  cfg.Embedding.Model,
		Dimension:       cfg.Embedding.Dimension,
	}
}

// newSearchProvider returns nil when external search is disabled.
func newSearchProvider(ctx context.Context, cfg config.Config) (websearch.Provider, error) {
	switch strings.ToLower(cfg.Search.Provider) {
	case "google":
		if cfg.Search.GoogleAPIKey == "" || cfg.Search.GoogleCSEID == "" {
			slog.Warn("google search credentials not set; web search disabled")
			return nil, nil
		}
		return websearch.NewGoogleCSE(cfg.Search.GoogleAPIKey, cfg.Search.GoogleCSEID), nil
	case "gemini":
		g, err := engine.NewGeminiEngine(ctx, cfg.Gemini.APIKey, cfg.Embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("creating gemini search client: %w", err)
		}
		return websearch.NewGeminiGrounded(g.Client(), websearch.DefaultGeminiModel), nil
	default:
		return nil, nil
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "scout version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The index is required; a server without it cannot answer anything.
	index, err := retrieval.Open(cfg.Index.Dir)
	if err != nil {
		return fmt.Errorf("loading index from %s: %w", cfg.Index.Dir, err)
	}
	slog.Info("index loaded", "dir", cfg.Index.Dir, "documents", index.Len(), "dimension", index.Dim())
	if index.Dim() != cfg.Embedding.Dimension {
		slog.Warn("index dimension differs from embedding.dimension", "index", index.Dim(), "configured", cfg.Embedding.Dimension)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	versions, err := store.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	slog.Info("storage opened", "data_dir", cfg.Storage.DataDir, "migrations", versions)

	chat, err := engine.New(ctx, engineConfig(cfg, cfg.Oracle.Provider))
	if err != nil {
		return fmt.Errorf("creating oracle backend: %w", err)
	}
	embed, err := engine.NewEmbedding(ctx, engineConfig(cfg, cfg.Embedding.Provider))
	if err != nil {
		return fmt.Errorf("creating embedding backend: %w", err)
	}
	if err := engine.EnsureReady(ctx, embed, []string{cfg.Embedding.Model}, os.Stderr); err != nil {
		return err
	}
	if err := engine.EnsureReady(ctx, chat, []string{cfg.Oracle.Model}, os.Stderr); err != nil {
		return err
	}

	oracle := engine.NewOracle(chat, cfg.Oracle.Model, oracleSystem, engine.CompleteOptions{
		Temperature: engine.Float(cfg.Oracle.Temperature),
		MaxTokens:   cfg.Oracle.MaxTokens,
	})
	retriever := retrieval.NewRetriever(retrieval.NewEmbedder(embed, cfg.Embedding.Model), index)
	ranker := reranking.New(retriever, store,
		reranking.WithWeights(reranking.Weights{
			Semantic: cfg.Ranking.SemanticWeight,
			Feedback: cfg.Ranking.FeedbackWeight,
		}),
		reranking.WithConfidence(cfg.Ranking.WilsonZ),
		reranking.WithRules(reranking.DefaultRules()...),
		reranking.WithLogger(logger),
	)

	sessions := session.NewStore(session.WithTTL(cfg.Session.TTL), session.WithLogger(logger))
	sweeper, err := session.StartSweeper(sessions, cfg.Session.SweepSchedule)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	hub, err := notify.NewHub(cfg.Notify.Workers, logger)
	if err != nil {
		return err
	}
	defer hub.Close()

	provider, err := newSearchProvider(ctx, cfg)
	if err != nil {
		return err
	}
	connector := websearch.NewConnector(provider, sessions, hub, websearch.Config{
		Results:       cfg.Search.Results,
		RatePerMinute: cfg.Search.RatePerMinute,
		Logger:        logger,
	})

	pipeline := agent.New(ranker, oracle, sessions,
		agent.WithSignals(agent.NewRandomSignals(uint64(cfg.Agent.Seed))),
		agent.WithNotifier(hub),
		agent.WithTopK(cfg.Ranking.TopK),
		agent.WithLogger(logger),
	)

	handler := api.NewHandler(api.Deps{
		Pipeline:     pipeline,
		Ranker:       ranker,
		Feedback:     store,
		Sessions:     sessions,
		Search:       connector,
		Hub:          hub,
		WriteTimeout: cfg.Notify.WriteTimeout,
		Logger:       logger,
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.MCPEnabled {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Ranker:   ranker,
			Feedback: store,
			Pipeline: pipeline,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "scout listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

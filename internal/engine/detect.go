package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/scout/internal/ollama"
)

// Providers accepted by New.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config holds backend selection and credentials.
type Config struct {
	Provider        string
	OllamaBaseURL   string
	OllamaKeepAlive time.Duration
	OpenAIBaseURL   string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string
	EmbeddingModel  string
	Dimension       int
}

// New returns the backend named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, ollama.WithKeepAlive(cfg.OllamaKeepAlive)), nil
	case ProviderOpenAI:
		return NewOpenAIEngine(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			EmbeddingModel: cfg.EmbeddingModel,
		})
	case ProviderAnthropic:
		return NewAnthropicEngine(cfg.AnthropicAPIKey), nil
	case ProviderGemini:
		return NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.Dimension)
	default:
		return nil, fmt.Errorf("unknown provider %q (want ollama, openai, anthropic or gemini)", cfg.Provider)
	}
}

// NewEmbedding is New for the embedding side; chat-only providers are rejected.
func NewEmbedding(ctx context.Context, cfg Config) (Engine, error) {
	if strings.EqualFold(cfg.Provider, ProviderAnthropic) {
		return nil, fmt.Errorf("provider %q: %w", cfg.Provider, ErrEmbeddingUnsupported)
	}
	return New(ctx, cfg)
}

package engine

import (
	"context"
	"errors"
)

// ErrEmbeddingUnsupported is returned by chat-only backends asked to embed.
var ErrEmbeddingUnsupported = errors.New("backend does not provide embeddings")

// Engine abstracts an inference backend (Ollama, an OpenAI-compatible API,
// Anthropic or Gemini). The reasoning oracle and the query embedder use this
// interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable or configured.
	IsRunning(ctx context.Context) bool

	// Name identifies the backend in logs.
	Name() string
}

// Embedder is the embedding half of Engine.
type Embedder interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

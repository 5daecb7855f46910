package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/scout/internal/engine"
	"golang.org/x/sync/errgroup"
)

// batchEmbedder is implemented by backends that embed many texts per request.
type batchEmbedder interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// batchSize bounds the number of texts sent in one EmbedMany request.
const batchSize = 32

// Embedder wraps an embedding backend and model name.
type Embedder struct {
	engine engine.Embedder
	model  string
}

// NewEmbedder creates an Embedder using the given backend and model name.
func NewEmbedder(e engine.Embedder, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for multiple texts, in input order.
// Returns nil (not error) for empty/nil input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the engine.

	if be, ok := e.engine.(batchEmbedder); ok {
		for start := 0; start < len(texts); start += batchSize {
			start, end := start, min(start+batchSize, len(texts))
			g.Go(func() error {
				vecs, err := be.EmbedMany(gCtx, e.model, texts[start:end])
				if err != nil {
					return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
				}
				copy(results[start:end], vecs)
				return nil
			})
		}
	} else {
		for i, text := range texts {
			i, text := i, text
			g.Go(func() error {
				vec, err := e.engine.Embed(gCtx, e.model, text)
				if err != nil {
					return fmt.Errorf("embedding text %d: %w", i, err)
				}
				results[i] = vec
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

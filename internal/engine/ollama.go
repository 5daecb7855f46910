package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/scout/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

var (
	_ Engine       = (*OllamaEngine)(nil)
	_ ModelManager = (*OllamaEngine)(nil)
)

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string, opts ...ollama.ClientOption) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL, opts...)}
}

// pullHint points at the fix when a model is missing locally.
func pullHint(model string, err error) error {
	if errors.Is(err, ollama.ErrModelNotFound) {
		return fmt.Errorf("%w (run `ollama pull %s`)", err, model)
	}
	return err
}

func (e *OllamaEngine) Name() string { return "ollama" }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var s *ollama.Schema
	if opts.Schema != nil {
		s = &ollama.Schema{
			Type:     opts.Schema.Type,
			Required: opts.Schema.Required,
		}
		if opts.Schema.Properties != nil {
			s.Properties = make(map[string]ollama.SchemaProperty, len(opts.Schema.Properties))
			for k, v := range opts.Schema.Properties {
				s.Properties[k] = ollama.SchemaProperty{Type: v.Type, Description: v.Description}
			}
		}
	}

	var o *ollama.Options
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		o = &ollama.Options{Temperature: opts.Temperature, NumPredict: opts.MaxTokens}
	}

	out, err := e.client.Chat(ctx, model, msgs, s, o)
	return out, pullHint(model, err)
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	v, err := e.client.Embed(ctx, model, text)
	return v, pullHint(model, err)
}

// EmbedMany embeds texts in a single request.
func (e *OllamaEngine) EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vs, err := e.client.EmbedMany(ctx, model, texts)
	return vs, pullHint(model, err)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

package engine

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIEngine talks to the OpenAI API, or any compatible server when
// BaseURL is set, through langchaingo.
type OpenAIEngine struct {
	llm      *openai.LLM
	embedder embeddings.Embedder
	hasKey   bool
}

var _ Engine = (*OpenAIEngine)(nil)

// OpenAIConfig configures NewOpenAIEngine. EmbeddingModel is fixed at
// construction; Embed ignores its model argument when it differs.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
}

func NewOpenAIEngine(cfg OpenAIConfig) (*OpenAIEngine, error) {
	token := cfg.APIKey
	if token == "" {
		// Local OpenAI-compatible servers accept any token.
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	emb, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("creating openai embedder: %w", err)
	}
	return &OpenAIEngine{llm: llm, embedder: emb, hasKey: cfg.APIKey != "" || cfg.BaseURL != ""}, nil
}

func (e *OpenAIEngine) Name() string { return "openai" }

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = llms.ChatMessageTypeSystem
		case RoleAssistant:
			role = llms.ChatMessageTypeAI
		}
		content = append(content, llms.MessageContent{
			Role:  role,
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		})
	}

	callOpts := []llms.CallOption{llms.WithModel(model)}
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.Schema != nil {
		callOpts = append(callOpts, llms.WithJSONMode())
	}

	resp, err := e.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices returned")
	}
	return resp.Choices[0].Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, _ string, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vec, nil
}

// EmbedMany embeds texts in batched API calls.
func (e *OpenAIEngine) EmbedMany(ctx context.Context, _ string, texts []string) ([][]float32, error) {
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	return vecs, nil
}

// IsRunning reports whether credentials or a custom endpoint are configured.
func (e *OpenAIEngine) IsRunning(context.Context) bool { return e.hasKey }

package engine

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiEngine uses the Gemini API for chat and embeddings.
type GeminiEngine struct {
	client    *genai.Client
	dimension int32
}

var _ Engine = (*GeminiEngine)(nil)

// NewGeminiEngine creates a Gemini backend. A positive dimension truncates
// embeddings to that size so they match the index.
func NewGeminiEngine(ctx context.Context, apiKey string, dimension int) (*GeminiEngine, error) {
	return newGeminiEngine(ctx, apiKey, "", dimension)
}

// newGeminiEngine allows pointing the client at another endpoint.
func newGeminiEngine(ctx context.Context, apiKey, baseURL string, dimension int) (*GeminiEngine, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, dimension: int32(dimension)}, nil
}

// Client exposes the underlying client for grounded search.
func (e *GeminiEngine) Client() *genai.Client { return e.client }

func (e *GeminiEngine) Name() string { return "gemini" }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	system, rest := splitSystem(messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	config := &genai.GenerateContentConfig{}
	if opts.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if opts.Schema != nil {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}

	var out strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				out.WriteString(part.Text)
			}
			if out.Len() > 0 {
				break
			}
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("gemini chat: empty response")
	}
	return out.String(), nil
}

func (e *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var cfg *genai.EmbedContentConfig
	if e.dimension > 0 {
		dim := e.dimension
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	result, err := e.client.Models.EmbedContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if result == nil || len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("gemini embed: no embedding returned")
	}
	return result.Embeddings[0].Values, nil
}

func (e *GeminiEngine) IsRunning(context.Context) bool { return e.client != nil }

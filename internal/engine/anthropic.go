package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicEngine uses the Anthropic Messages API. It is chat-only.
type AnthropicEngine struct {
	client anthropic.Client
	hasKey bool
}

var _ Engine = (*AnthropicEngine)(nil)

// NewAnthropicEngine creates a chat-only Anthropic backend. Extra request
// options (base URL, HTTP client) are passed through to the SDK client.
func NewAnthropicEngine(apiKey string, opts ...option.RequestOption) *AnthropicEngine {
	return &AnthropicEngine{
		client: anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		hasKey: apiKey != "",
	}
}

func (e *AnthropicEngine) Name() string { return "anthropic" }

func (e *AnthropicEngine) Chat(ctx context.Context, model string, messages []Message, opts ChatOptions) (string, error) {
	system, rest := splitSystem(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultAnthropicMaxTokens,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	if opts.Temperature != nil {
		params.Temperature = anthropic.Float(*opts.Temperature)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, m := range rest {
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	resp, err := e.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic chat: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", fmt.Errorf("anthropic chat: empty response")
	}
	return out.String(), nil
}

func (e *AnthropicEngine) Embed(context.Context, string, string) ([]float32, error) {
	return nil, ErrEmbeddingUnsupported
}

func (e *AnthropicEngine) IsRunning(context.Context) bool { return e.hasKey }

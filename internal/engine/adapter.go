package engine

import (
	"context"
	"strings"
)

// CompleteOptions tunes one Complete call. Zero values fall back to the
// Oracle's defaults.
type CompleteOptions struct {
	Temperature *float64
	MaxTokens   int
}

// Oracle turns a single prompt into text using an Engine and a fixed model.
type Oracle struct {
	eng      Engine
	model    string
	system   string
	defaults CompleteOptions
}

// NewOracle binds e to model. A non-empty system prompt is sent before every prompt.
func NewOracle(e Engine, model, system string, defaults CompleteOptions) *Oracle {
	return &Oracle{eng: e, model: model, system: system, defaults: defaults}
}

// Complete sends prompt as one user message and returns the trimmed reply.
func (o *Oracle) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	msgs := make([]Message, 0, 2)
	if o.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: o.system})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})

	co := ChatOptions{Temperature: o.defaults.Temperature, MaxTokens: o.defaults.MaxTokens}
	if opts.Temperature != nil {
		co.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		co.MaxTokens = opts.MaxTokens
	}

	out, err := o.eng.Chat(ctx, o.model, msgs, co)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ ChatOptions) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _ string, _ string) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// hostedEngine has no ModelManager methods.
type hostedEngine struct{ configured bool }

func (h hostedEngine) Name() string { return "hosted" }
func (h hostedEngine) Chat(context.Context, string, []Message, ChatOptions) (string, error) {
	return "", nil
}
func (h hostedEngine) Embed(context.Context, string, string) ([]float32, error) { return nil, nil }
func (h hostedEngine) IsRunning(context.Context) bool                           { return h.configured }

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true, "all-minilm": true},
	}
	require.NoError(t, EnsureReady(context.Background(), m, []string{"llama3.2", "all-minilm"}, io.Discard))
	assert.Empty(t, m.pulled)
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true},
	}
	require.NoError(t, EnsureReady(context.Background(), m, []string{"llama3.2", "all-minilm", "all-minilm"}, io.Discard))
	assert.Equal(t, []string{"all-minilm"}, m.pulled)
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	err := EnsureReady(context.Background(), m, []string{"llama3.2"}, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mock backend")
}

func TestEnsureReady_HostedSkipsPull(t *testing.T) {
	assert.NoError(t, EnsureReady(context.Background(), hostedEngine{configured: true}, []string{"claude"}, io.Discard))
	assert.Error(t, EnsureReady(context.Background(), hostedEngine{}, nil, io.Discard), "unconfigured hosted backend")
}

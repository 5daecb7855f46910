package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tagsJSON builds a /api/tags response with the given model names.
func tagsJSON(names ...string) []byte {
	type entry struct {
		Name string `json:"name"`
	}
	type resp struct {
		Models []entry `json:"models"`
	}
	r := resp{}
	for _, n := range names {
		r.Models = append(r.Models, entry{Name: n})
	}
	b, _ := json.Marshal(r)
	return b
}

func TestIsRunning_Up(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest"))
	}))
	defer srv.Close()

	assert.True(t, New(srv.URL).IsRunning(context.Background()))
}

func TestIsRunning_Down(t *testing.T) {
	// Point at a closed server to simulate connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	assert.False(t, New(srv.URL).IsRunning(context.Background()))
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "mistral-nemo:latest", "all-minilm:latest"))
	}))
	defer srv.Close()

	models, err := New(srv.URL).ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:latest", "mistral-nemo:latest", "all-minilm:latest"}, models)
}

func TestHasModel_Present(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("llama3.2:latest", "mistral-nemo:latest"))
	}))
	defer srv.Close()

	assert.True(t, New(srv.URL).HasModel(context.Background(), "llama3.2"))
}

func TestHasModel_Absent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tagsJSON("mistral-nemo:latest"))
	}))
	defer srv.Close()

	assert.False(t, New(srv.URL).HasModel(context.Background(), "llama3.2"))
}

func TestChat_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: "Three roofers serve Newark."},
		})
	}))
	defer srv.Close()

	result, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "Which roofers serve Newark?"},
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Three roofers serve Newark.", result)
}

func TestChat_JSONSchema(t *testing.T) {
	var capturedFormat any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var reqBody struct {
			Format any `json:"format"`
		}
		json.NewDecoder(r.Body).Decode(&reqBody)
		capturedFormat = reqBody.Format

		json.NewEncoder(w).Encode(chatResponse{
			Message: Message{Role: "assistant", Content: `{"priority":"high","confidence":0.95}`},
		})
	}))
	defer srv.Close()

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"priority":   {Type: "string"},
			"confidence": {Type: "number"},
		},
		Required: []string{"priority", "confidence"},
	}

	result, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{
		{Role: "user", Content: "classify this"},
	}, schema, nil)
	require.NoError(t, err)

	formatMap, ok := capturedFormat.(map[string]any)
	require.True(t, ok, "format = %T, want schema object", capturedFormat)
	assert.Equal(t, "object", formatMap["type"])
	assert.JSONEq(t, `{"priority":"high","confidence":0.95}`, result)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	vec, err := New(srv.URL).Embed(context.Background(), "all-minilm", "hello world")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestPullModel_Progress(t *testing.T) {
	var gotName string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pull" {
			http.NotFound(w, r)
			return
		}
		var reqBody struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&reqBody)
		gotName = reqBody.Name

		// Stream progress lines as newline-delimited JSON.
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 500})
		enc.Encode(PullProgress{Status: "downloading", Total: 1000, Completed: 1000})
		enc.Encode(PullProgress{Status: "success"})
	}))
	defer srv.Close()

	var progressCount int
	err := New(srv.URL).PullModel(context.Background(), "llama3.2", func(p PullProgress) {
		progressCount++
	})
	require.NoError(t, err)
	assert.Equal(t, "llama3.2", gotName)
	assert.Equal(t, 3, progressCount)
}

func TestChat_Options(t *testing.T) {
	var captured chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "ok"}})
	}))
	defer srv.Close()

	temp := 0.2
	_, err := New(srv.URL).Chat(context.Background(), "llama3.2", []Message{
		{Role: "system", Content: "You are a sales assistant."},
		{Role: "user", Content: "hi"},
	}, nil, &Options{Temperature: &temp, NumPredict: 256})
	require.NoError(t, err)

	require.NotNil(t, captured.Options)
	require.NotNil(t, captured.Options.Temperature)
	assert.Equal(t, 0.2, *captured.Options.Temperature)
	assert.Equal(t, 256, captured.Options.NumPredict)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
}

func TestChat_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"llama9\" not found"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "llama9", []Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, err.Error(), "404")
	assert.ErrorIs(t, err, ErrModelNotFound)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, `model "llama9" not found`, se.Message)
}

func TestEmbed_ServerErrorIsNotModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Embed(context.Background(), "all-minilm", "hi")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotFound), "503 matched ErrModelNotFound: %v", err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestKeepAlive(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		json.NewDecoder(r.Body).Decode(&m)
		bodies = append(bodies, m)
		switch r.URL.Path {
		case "/api/chat":
			json.NewEncoder(w).Encode(chatResponse{Message: Message{Role: "assistant", Content: "ok"}})
		case "/api/embed":
			json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithKeepAlive(10*time.Minute))
	_, err := c.Chat(context.Background(), "llama3.2", []Message{{Role: "user", Content: "hi"}}, nil, nil)
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "all-minilm", "hi")
	require.NoError(t, err)
	require.Len(t, bodies, 2)
	for i, b := range bodies {
		assert.Equal(t, "10m0s", b["keep_alive"], "request %d", i)
	}

	bodies = nil
	_, err = New(srv.URL).Embed(context.Background(), "all-minilm", "hi")
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.NotContains(t, bodies[0], "keep_alive", "sent without WithKeepAlive")
}

func TestPullModel_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(PullProgress{Status: "pulling manifest"})
		enc.Encode(PullProgress{Error: "pull model manifest: file does not exist"})
	}))
	defer srv.Close()

	err := New(srv.URL).PullModel(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file does not exist")
}

func TestEmbedMany(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		out := embedResponse{}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i)})
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	vecs, err := New(srv.URL).EmbedMany(context.Background(), "all-minilm", []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}, {2}}, vecs)
}

package llms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/config"
)

func ollamaTestConfig(host string) *config.LLMProviderConfig {
	return &config.LLMProviderConfig{
		Type:          "ollama",
		Model:         "llama3.2",
		Host:          host,
		Timeout:       5,
		ContextWindow: 8192,
		SupportsTools: config.BoolPtr(true),
	}
}

func TestOllamaProvider_StreamNDJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Write([]byte(`{"message":{"role":"assistant","content":"Hey"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":"!"},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":7,"eval_count":2}` + "\n"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(ollamaTestConfig(srv.URL))
	ch, err := p.Stream(context.Background(), NormalizedRequest{
		Model:    "llama3.2",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		Stream:   true,
	})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Len(t, events, 4)
	assert.Equal(t, "Hey", events[0].Text)
	assert.Equal(t, "!", events[1].Text)
	require.Equal(t, EventUsage, events[2].Type)
	assert.Equal(t, 9, events[2].Usage.TotalTokens)
	assert.Equal(t, EventDone, events[3].Type)
}

func TestOllamaProvider_WholeToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"weather","arguments":{"city":"Oslo"}}}]},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":1}` + "\n"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(ollamaTestConfig(srv.URL))
	ch, err := p.Stream(context.Background(), NormalizedRequest{Model: "llama3.2", Stream: true})
	require.NoError(t, err)

	acc := NewToolCallAccumulator()
	for ev := range ch {
		if ev.Type == EventToolCallDelta {
			acc.Add(ev.ToolCall)
		}
	}

	calls, err := acc.Calls()
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "weather", calls[0].Name)
	assert.Equal(t, map[string]any{"city": "Oslo"}, calls[0].Arguments)
	assert.NotEmpty(t, calls[0].ID)
}

func TestOllamaProvider_ToolCallsAcrossLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"alpha","arguments":{"a":1}}}]},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"beta","arguments":{"b":2}}}]},"done":false}` + "\n"))
		w.Write([]byte(`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":3,"eval_count":1}` + "\n"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(ollamaTestConfig(srv.URL))
	ch, err := p.Stream(context.Background(), NormalizedRequest{Model: "llama3.2", Stream: true})
	require.NoError(t, err)

	acc := NewToolCallAccumulator()
	for ev := range ch {
		if ev.Type == EventToolCallDelta {
			acc.Add(ev.ToolCall)
		}
	}

	// Calls delivered on separate lines must keep distinct indexes, or
	// their argument objects would be concatenated into invalid JSON.
	calls, err := acc.Calls()
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "alpha", calls[0].Name)
	assert.Equal(t, map[string]any{"a": float64(1)}, calls[0].Arguments)
	assert.Equal(t, "beta", calls[1].Name)
	assert.Equal(t, map[string]any{"b": float64(2)}, calls[1].Arguments)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
}

func TestOllamaProvider_InlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"model 'nope' not found"}` + "\n"))
	}))
	defer srv.Close()

	p := NewOllamaProvider(ollamaTestConfig(srv.URL))
	ch, err := p.Stream(context.Background(), NormalizedRequest{Model: "nope", Stream: true})
	require.NoError(t, err)

	events := collectEvents(t, ch)
	require.Len(t, events, 1)
	require.Equal(t, EventError, events[0].Type)
	assert.False(t, events[0].Err.Retryable)
}

func TestOllamaProvider_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.2"},{"name":"mistral"}]}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(ollamaTestConfig(srv.URL))
	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2", "mistral"}, models)
}

func TestNewProvider_UnknownType(t *testing.T) {
	_, err := NewProvider(&config.LLMProviderConfig{Type: "mystery"})
	assert.Error(t, err)
}

func TestProviderRegistry_RegisterFromConfig(t *testing.T) {
	r := NewProviderRegistry()
	err := r.RegisterFromConfig(map[string]*config.LLMProviderConfig{
		"local": {Type: "ollama", Model: "llama3.2", Host: "http://localhost:11434"},
	})
	require.NoError(t, err)

	p, ok := r.Get("local")
	require.True(t, ok)
	assert.Equal(t, "llama3.2", p.ModelName())
}

package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/observability"
)

type echoTool struct {
	delay time.Duration
	fail  bool
}

func (t *echoTool) Name() string { return "echo" }

func (t *echoTool) Definition() llms.ToolDefinition {
	return llms.ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *echoTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	if t.fail {
		return Result{}, errors.New("backend unavailable")
	}
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	text, _ := args["text"].(string)
	return Result{Content: text, Success: true}, nil
}

func TestInvoke(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&echoTool{}))

	result := r.Invoke(context.Background(), "echo", map[string]any{"text": "hello"}, time.Second)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Content)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()

	result := r.Invoke(context.Background(), "missing", nil, time.Second)
	assert.False(t, result.Success)
	assert.Contains(t, result.Content, "not available")
}

func TestInvokeToolFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&echoTool{fail: true}))

	result := r.Invoke(context.Background(), "echo", nil, time.Second)
	assert.False(t, result.Success)
	assert.Contains(t, result.Content, "backend unavailable")
}

func TestInvokeTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&echoTool{delay: 500 * time.Millisecond}))

	result := r.Invoke(context.Background(), "echo", nil, 20*time.Millisecond)
	assert.False(t, result.Success)
	assert.Contains(t, result.Content, "context deadline exceeded")
}

func TestInvokeRecordsMetrics(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&echoTool{}))
	metrics := observability.NewMetrics()
	r.Instrument(metrics)

	r.Invoke(context.Background(), "echo", map[string]any{"text": "hi"}, time.Second)
	r.Invoke(context.Background(), "missing", nil, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues("echo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ToolInvocations.WithLabelValues("missing", "unknown")))
}

func TestDefinitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterTool(&echoTool{}))

	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "echo", defs[0].Name)
}

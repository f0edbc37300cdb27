// Package tools defines the tool extension point for chat sessions.
// Tools advertise a definition the model can call and execute with a
// bounded timeout; failures are reported back to the model as tool
// results rather than aborting the session.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/registry"
)

// Tool is one callable capability exposed to models.
type Tool interface {
	Name() string
	Definition() llms.ToolDefinition
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Result is the outcome of one tool invocation. Content is what gets fed
// back to the model as the tool result turn.
type Result struct {
	Content  string
	Success  bool
	Duration time.Duration
}

// ToolExecutionError wraps a tool failure with the tool identity.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	msg := fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// Registry holds the tools available to chat sessions.
type Registry struct {
	*registry.BaseRegistry[Tool]

	metrics *observability.Metrics
}

func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Tool]()}
}

// Instrument enables the per-tool invocation counter.
func (r *Registry) Instrument(metrics *observability.Metrics) {
	r.metrics = metrics
}

func (r *Registry) RegisterTool(tool Tool) error {
	return r.Register(tool.Name(), tool)
}

// Definitions returns the tool definitions to advertise in a model
// request.
func (r *Registry) Definitions() []llms.ToolDefinition {
	tools := r.List()
	defs := make([]llms.ToolDefinition, 0, len(tools))
	for _, tool := range tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Invoke runs a named tool under the given timeout. Unknown tool names
// and execution failures both come back as unsuccessful Results whose
// Content describes the problem; the model sees the failure and can
// recover, which is why Invoke never returns an error to the caller.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, timeout time.Duration) Result {
	start := time.Now()

	tool, ok := r.Get(name)
	if !ok {
		r.count(name, "unknown")
		return Result{
			Content:  fmt.Sprintf("tool %q is not available", name),
			Success:  false,
			Duration: time.Since(start),
		}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := tool.Execute(ctx, args)
	result.Duration = time.Since(start)
	if err != nil {
		execErr := &ToolExecutionError{Tool: name, Message: "execution failed", Err: err}
		result.Success = false
		if result.Content == "" {
			result.Content = execErr.Error()
		}
	}
	if result.Success {
		r.count(name, "success")
	} else {
		r.count(name, "failure")
	}
	return result
}

func (r *Registry) count(tool, outcome string) {
	if r.metrics != nil {
		r.metrics.ToolInvocations.WithLabelValues(tool, outcome).Inc()
	}
}

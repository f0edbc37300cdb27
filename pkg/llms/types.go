// Package llms normalizes heterogeneous model-provider APIs into one
// internal request/event contract. Each adapter translates its provider's
// streaming framing into the same finite event sequence; callers never see
// provider-specific shapes.
package llms

import "context"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of normalized conversation history.
type Message struct {
	Role    Role
	Content string

	// ToolCalls holds completed tool invocations attached to an
	// assistant message.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// ToolCall is a completed, parseable tool invocation request.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// NormalizedRequest is the provider-independent completion request.
type NormalizedRequest struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// EventType enumerates the closed set of normalized stream events.
type EventType int

const (
	// EventTokenDelta carries an incremental piece of assistant text.
	EventTokenDelta EventType = iota

	// EventToolCallDelta carries an incremental piece of a tool call.
	EventToolCallDelta

	// EventUsage carries token accounting, typically once near the end.
	EventUsage

	// EventDone terminates a successful stream.
	EventDone

	// EventError terminates a failed stream.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventTokenDelta:
		return "delta"
	case EventToolCallDelta:
		return "tool_call"
	case EventUsage:
		return "usage"
	case EventDone:
		return "done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ToolCallDelta is a partial tool call as it arrives on the wire. ID and
// Name are set on the first fragment; ArgumentsFragment accumulates.
type ToolCallDelta struct {
	Index             int
	ID                string
	Name              string
	ArgumentsFragment string
}

// Usage reports token consumption for a completed request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamEvent is one element of the normalized event sequence. Exactly the
// fields relevant to Type are populated.
type StreamEvent struct {
	Type     EventType
	Text     string
	ToolCall *ToolCallDelta
	Usage    *Usage
	Err      *StreamError
}

// Stream terminates with exactly one Done or Error event; nothing follows
// the terminal event and the channel is closed after it.
type Provider interface {
	// Stream opens a streaming completion. The returned channel is
	// finite and not restartable. Adapters never retry; retry policy
	// belongs to the caller.
	Stream(ctx context.Context, req NormalizedRequest) (<-chan StreamEvent, error)

	// ModelName returns the configured default model id.
	ModelName() string

	// ContextWindow returns the model input token budget.
	ContextWindow() int

	// SupportsTools reports whether the model accepts tool definitions.
	SupportsTools() bool

	// ListModels returns the model ids the provider currently serves.
	ListModels(ctx context.Context) ([]string, error)

	Close() error
}

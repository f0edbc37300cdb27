// Package chat implements completion orchestration: request validation,
// context assembly, multi-model fan-out with a tagged fan-in merge, tool
// rounds and per-provider retry. Sessions stream a closed set of wire
// events tagged with the originating model so callers can demultiplex.
package chat

import (
	"context"
	"time"

	"github.com/parley-chat/parley/pkg/llms"
)

// Turn is one persisted conversation entry. Turns are immutable once
// saved and only ever appended.
type Turn struct {
	ID        string
	Role      llms.Role
	Content   string
	ModelID   string
	CreatedAt time.Time

	// ToolCalls holds completed tool invocations on an assistant turn.
	ToolCalls []llms.ToolCall

	// ToolCallID links a tool turn to the call it answers.
	ToolCallID string

	// Collections are the knowledge bases this turn referenced.
	Collections []string
}

// Request is one incoming chat completion request. Models lists the
// provider registry names to fan out to; most requests name exactly one.
type Request struct {
	RequestID      string
	ConversationID string
	Principal      string
	Models         []string
	Message        string
	SystemPrompt   string
	Collections    []string
}

// State tracks a request through its lifecycle.
type State string

const (
	StateQueued           State = "queued"
	StateContextAssembled State = "context_assembled"
	StateDispatched       State = "dispatched"
	StateStreaming        State = "streaming"
	StateToolRound        State = "tool_round"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateFailed           State = "failed"
)

// Event is the wire contract for streaming: a discrete message tagged
// with the request and originating model. Events are ordered per model
// id, unordered across model ids.
type Event struct {
	RequestID string `json:"requestId"`
	ModelID   string `json:"modelId"`
	Type      string `json:"eventType"`
	Payload   any    `json:"payload,omitempty"`
}

// DeltaPayload carries incremental assistant text.
type DeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload reports a tool invocation and its outcome.
type ToolCallPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Result  string `json:"result,omitempty"`
	Success bool   `json:"success"`
}

// UsagePayload carries token accounting for one model stream.
type UsagePayload struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ErrorPayload reports a terminal per-model failure.
type ErrorPayload struct {
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// DonePayload closes one model's stream with its terminal state.
type DonePayload struct {
	State State `json:"state"`
}

// ConversationStore is the persistence collaborator. The orchestrator
// never issues storage queries itself.
type ConversationStore interface {
	SaveTurn(ctx context.Context, conversationID string, turn *Turn) error
	GetConversation(ctx context.Context, conversationID string) ([]*Turn, error)
}

// Authorizer is the capability-check collaborator, consulted once while
// a request is queued.
type Authorizer interface {
	CanUseModel(ctx context.Context, principal, modelID string) bool
	CanAccessCollection(ctx context.Context, principal, collectionID string) bool
}

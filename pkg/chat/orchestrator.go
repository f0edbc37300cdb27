package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/llms"
	"github.com/parley-chat/parley/pkg/observability"
	"github.com/parley-chat/parley/pkg/rag"
	"github.com/parley-chat/parley/pkg/tools"
)

// Orchestrator drives a chat request through its lifecycle: validation,
// context assembly, provider fan-out, tool rounds and persistence.
type Orchestrator struct {
	providers *llms.ProviderRegistry
	catalog   *Catalog
	retriever *rag.Retriever
	tools     *tools.Registry
	store     ConversationStore
	auth      Authorizer
	cfg       *config.ChatConfig
	metrics   *observability.Metrics
}

func NewOrchestrator(
	providers *llms.ProviderRegistry,
	catalog *Catalog,
	retriever *rag.Retriever,
	toolRegistry *tools.Registry,
	store ConversationStore,
	auth Authorizer,
	cfg *config.ChatConfig,
) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		catalog:   catalog,
		retriever: retriever,
		tools:     toolRegistry,
		store:     store,
		auth:      auth,
		cfg:       cfg,
	}
}

// Instrument enables token accounting for streamed usage events.
func (o *Orchestrator) Instrument(metrics *observability.Metrics) {
	o.metrics = metrics
}

// Stream validates the request, assembles context and opens one provider
// stream per requested model. Validation failures reject the request
// before any network call; after that, per-model failures surface as
// tagged error events and never affect sibling models.
func (o *Orchestrator) Stream(ctx context.Context, req *Request) (*StreamSession, error) {
	specs, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	primary := specs[req.Models[0]]
	messages, warnings, err := o.assembleMessages(ctx, req, primary)
	if err != nil {
		return nil, err
	}

	o.saveTurn(ctx, req.ConversationID, &Turn{
		ID:          uuid.NewString(),
		Role:        llms.RoleUser,
		Content:     req.Message,
		Collections: req.Collections,
		CreatedAt:   time.Now().UTC(),
	})

	sessionCtx, cancel := context.WithCancel(ctx)
	session := newStreamSession(req.RequestID, cancel, o.cancelGrace())
	session.addWarnings(warnings)

	var wg sync.WaitGroup
	for _, modelID := range req.Models {
		session.setState(modelID, StateDispatched)
		wg.Add(1)
		go func(modelID string) {
			defer wg.Done()
			o.runModel(sessionCtx, session, req, modelID, specs[modelID], messages)
		}(modelID)
	}
	go func() {
		wg.Wait()
		session.finish()
	}()

	return session, nil
}

// validate covers the queued state: request shape, model specs and
// principal capabilities.
func (o *Orchestrator) validate(ctx context.Context, req *Request) (map[string]ModelSpec, error) {
	if req.Message == "" {
		return nil, &ValidationError{Field: "message", Message: "must not be empty"}
	}
	if len(req.Models) == 0 {
		return nil, &ValidationError{Field: "models", Message: "at least one model is required"}
	}

	specs := make(map[string]ModelSpec, len(req.Models))
	for _, modelID := range req.Models {
		spec, ok := o.catalog.Get(modelID)
		if !ok {
			return nil, &ValidationError{Field: "models", Message: fmt.Sprintf("unknown model %q", modelID)}
		}
		if o.auth != nil && !o.auth.CanUseModel(ctx, req.Principal, modelID) {
			return nil, &ValidationError{Field: "models", Message: fmt.Sprintf("model %q is not permitted", modelID)}
		}
		specs[modelID] = spec
	}

	for _, collection := range req.Collections {
		if o.auth != nil && !o.auth.CanAccessCollection(ctx, req.Principal, collection) {
			return nil, &ValidationError{Field: "collections", Message: fmt.Sprintf("collection %q is not permitted", collection)}
		}
	}
	return specs, nil
}

// runModel owns one provider stream from dispatch to its terminal state,
// including tool rounds and the single automatic retry after a retryable
// failure.
func (o *Orchestrator) runModel(ctx context.Context, session *StreamSession, req *Request, modelID string, spec ModelSpec, messages []llms.Message) {
	provider, ok := o.providers.Get(modelID)
	if !ok {
		o.failModel(session, req, modelID, &llms.StreamError{Kind: "rejection", Message: fmt.Sprintf("provider %q not registered", modelID)})
		return
	}

	history := append([]llms.Message(nil), messages...)
	var toolDefs []llms.ToolDefinition
	if o.tools != nil && spec.SupportsTools {
		toolDefs = o.tools.Definitions()
	}

	rounds := 0
	for {
		outcome := o.streamOnce(ctx, session, modelID, provider, llms.NormalizedRequest{
			Model:    spec.Model,
			Messages: history,
			Tools:    toolDefs,
			Stream:   true,
		})

		if ctx.Err() != nil {
			session.setState(modelID, StateCancelled)
			o.savePartialOutput(req, session, modelID, outcome.text)
			session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "done", Payload: DonePayload{State: StateCancelled}})
			return
		}

		if outcome.err != nil {
			o.savePartialOutput(req, session, modelID, outcome.text)
			o.failModel(session, req, modelID, outcome.err)
			return
		}

		calls := outcome.calls
		if len(calls) == 0 {
			o.saveTurn(ctx, req.ConversationID, &Turn{
				ID:        uuid.NewString(),
				Role:      llms.RoleAssistant,
				Content:   outcome.text,
				ModelID:   modelID,
				CreatedAt: time.Now().UTC(),
			})
			session.setState(modelID, StateCompleted)
			session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "done", Payload: DonePayload{State: StateCompleted}})
			return
		}

		rounds++
		if rounds > o.cfg.MaxToolRounds {
			budgetErr := &BudgetExceededError{Budget: "tool rounds", Limit: o.cfg.MaxToolRounds}
			o.savePartialOutput(req, session, modelID, outcome.text)
			session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "error", Payload: ErrorPayload{Message: budgetErr.Error()}})
			session.setState(modelID, StateFailed)
			session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "done", Payload: DonePayload{State: StateFailed}})
			return
		}

		session.setState(modelID, StateToolRound)
		history = o.runToolRound(ctx, session, req, modelID, history, outcome.text, calls)
		session.setState(modelID, StateDispatched)
	}
}

// streamOutcome is the result of consuming one provider stream to its
// terminal event, including the retry attempt when permitted.
type streamOutcome struct {
	text  string
	calls []llms.ToolCall
	err   *llms.StreamError
}

// streamOnce consumes a single provider stream and forwards its events
// tagged with the model id. A retryable failure before any text was
// streamed is resent once with exponential backoff; once partial output
// has reached the caller it is never retracted, so a later failure
// surfaces as-is.
func (o *Orchestrator) streamOnce(ctx context.Context, session *StreamSession, modelID string, provider llms.Provider, req llms.NormalizedRequest) streamOutcome {
	var outcome streamOutcome

	for attempt := 0; ; attempt++ {
		session.setState(modelID, StateStreaming)
		outcome = o.consumeStream(ctx, session, modelID, provider, req)

		if outcome.err == nil || ctx.Err() != nil {
			return outcome
		}
		if !outcome.err.Retryable || attempt >= o.cfg.ProviderRetries || outcome.text != "" {
			return outcome
		}

		backoff := time.Duration(o.cfg.RetryBackoff) * time.Millisecond << attempt
		slog.Warn("provider stream failed, retrying",
			"model", modelID, "attempt", attempt+1, "backoff", backoff, "error", outcome.err.Message)
		select {
		case <-ctx.Done():
			return outcome
		case <-time.After(backoff):
		}
	}
}

func (o *Orchestrator) consumeStream(ctx context.Context, session *StreamSession, modelID string, provider llms.Provider, req llms.NormalizedRequest) streamOutcome {
	var outcome streamOutcome

	events, err := provider.Stream(ctx, req)
	if err != nil {
		outcome.err = &llms.StreamError{Kind: "transport", Message: err.Error(), Retryable: true}
		return outcome
	}

	acc := llms.NewToolCallAccumulator()
	for event := range events {
		switch event.Type {
		case llms.EventTokenDelta:
			outcome.text += event.Text
			session.appendOutput(modelID, event.Text)
			session.emit(Event{RequestID: session.RequestID, ModelID: modelID, Type: "delta", Payload: DeltaPayload{Text: event.Text}})
		case llms.EventToolCallDelta:
			acc.Add(event.ToolCall)
		case llms.EventUsage:
			if o.metrics != nil {
				o.metrics.TokensUsed.WithLabelValues(modelID, "prompt").Add(float64(event.Usage.PromptTokens))
				o.metrics.TokensUsed.WithLabelValues(modelID, "completion").Add(float64(event.Usage.CompletionTokens))
			}
			session.emit(Event{RequestID: session.RequestID, ModelID: modelID, Type: "usage", Payload: UsagePayload{
				PromptTokens:     event.Usage.PromptTokens,
				CompletionTokens: event.Usage.CompletionTokens,
				TotalTokens:      event.Usage.TotalTokens,
			}})
		case llms.EventDone:
		case llms.EventError:
			outcome.err = event.Err
		}
	}

	if outcome.err == nil {
		calls, err := acc.Calls()
		if err != nil {
			outcome.err = &llms.StreamError{Kind: "rejection", Message: fmt.Sprintf("malformed tool call arguments: %v", err)}
		} else {
			outcome.calls = calls
		}
	}
	return outcome
}

// runToolRound executes every tool call from the completed stream,
// appends the assistant and tool turns to the history and persists them.
// The updated history re-enters dispatch. Tool failures come back as
// tool-result turns so the model can recover.
func (o *Orchestrator) runToolRound(ctx context.Context, session *StreamSession, req *Request, modelID string, history []llms.Message, text string, calls []llms.ToolCall) []llms.Message {
	assistant := llms.Message{Role: llms.RoleAssistant, Content: text, ToolCalls: calls}
	history = append(history, assistant)
	o.saveTurn(ctx, req.ConversationID, &Turn{
		ID:        uuid.NewString(),
		Role:      llms.RoleAssistant,
		Content:   text,
		ModelID:   modelID,
		ToolCalls: calls,
		CreatedAt: time.Now().UTC(),
	})

	timeout := time.Duration(o.cfg.ToolTimeout) * time.Second
	for _, call := range calls {
		result := o.tools.Invoke(ctx, call.Name, call.Arguments, timeout)
		session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "tool_call", Payload: ToolCallPayload{
			ID:      call.ID,
			Name:    call.Name,
			Result:  result.Content,
			Success: result.Success,
		}})

		history = append(history, llms.Message{
			Role:       llms.RoleTool,
			Content:    result.Content,
			ToolCallID: call.ID,
		})
		o.saveTurn(ctx, req.ConversationID, &Turn{
			ID:         uuid.NewString(),
			Role:       llms.RoleTool,
			Content:    result.Content,
			ModelID:    modelID,
			ToolCallID: call.ID,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return history
}

// failModel marks one model stream failed without touching its siblings.
func (o *Orchestrator) failModel(session *StreamSession, req *Request, modelID string, streamErr *llms.StreamError) {
	session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "error", Payload: ErrorPayload{
		Message:   streamErr.Message,
		Retryable: streamErr.Retryable,
	}})
	session.setState(modelID, StateFailed)
	session.emit(Event{RequestID: req.RequestID, ModelID: modelID, Type: "done", Payload: DonePayload{State: StateFailed}})
}

// savePartialOutput persists whatever text a failed or cancelled stream
// produced. Streamed output is never retracted.
func (o *Orchestrator) savePartialOutput(req *Request, session *StreamSession, modelID, text string) {
	if text == "" {
		return
	}
	// The session context is already cancelled or failing here; persist
	// on a fresh context so the partial turn is not lost with it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.saveTurn(ctx, req.ConversationID, &Turn{
		ID:        uuid.NewString(),
		Role:      llms.RoleAssistant,
		Content:   text,
		ModelID:   modelID,
		CreatedAt: time.Now().UTC(),
	})
}

func (o *Orchestrator) saveTurn(ctx context.Context, conversationID string, turn *Turn) {
	if o.store == nil || conversationID == "" {
		return
	}
	if err := o.store.SaveTurn(ctx, conversationID, turn); err != nil {
		slog.Warn("failed to persist turn", "conversation", conversationID, "role", turn.Role, "error", err)
	}
}

func (o *Orchestrator) cancelGrace() time.Duration {
	return time.Duration(o.cfg.CancelGrace) * time.Millisecond
}

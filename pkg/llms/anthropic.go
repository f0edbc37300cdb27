package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/httpclient"
)

const anthropicVersion = "2023-06-01"

// AnthropicProvider speaks the Anthropic messages API.
type AnthropicProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks on assistant messages.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result blocks on user messages.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// anthropicStreamEvent covers every SSE event shape the messages API
// emits; only the fields for the given type are populated.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`

	Message *struct {
		Usage *anthropicUsage `json:"usage,omitempty"`
	} `json:"message,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicModelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func NewAnthropicProvider(cfg *config.LLMProviderConfig) *AnthropicProvider {
	return &AnthropicProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
}

func (p *AnthropicProvider) ModelName() string { return p.config.Model }

func (p *AnthropicProvider) ContextWindow() int { return p.config.ContextWindow }

func (p *AnthropicProvider) SupportsTools() bool {
	return p.config.SupportsTools != nil && *p.config.SupportsTools
}

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) Stream(ctx context.Context, req NormalizedRequest) (<-chan StreamEvent, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		p.streamResponse(httpReq, events)
	}()
	return events, nil
}

func (p *AnthropicProvider) streamResponse(req *http.Request, events chan<- StreamEvent) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
			resp.Body.Close()
		}
		events <- streamErrorEvent("anthropic", statusCode, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		events <- streamErrorEvent("anthropic", resp.StatusCode, apiError("anthropic", resp.StatusCode, body))
		return
	}

	reader := bufio.NewReader(resp.Body)
	usage := Usage{}

	// Tracks the tool_use block open at each content index so argument
	// fragments can be tagged with id and name.
	toolBlocks := make(map[int]*ToolCallDelta)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			events <- streamErrorEvent("anthropic", 0, fmt.Errorf("stream read failed: %w", err))
			return
		}

		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}
		line = line[6:]

		var event anthropicStreamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage.PromptTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				delta := &ToolCallDelta{
					Index: event.Index,
					ID:    event.ContentBlock.ID,
					Name:  event.ContentBlock.Name,
				}
				toolBlocks[event.Index] = delta
				events <- StreamEvent{Type: EventToolCallDelta, ToolCall: delta}
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text != "" {
					events <- StreamEvent{Type: EventTokenDelta, Text: event.Delta.Text}
				}
			case "input_json_delta":
				if event.Delta.PartialJSON != "" {
					events <- StreamEvent{
						Type: EventToolCallDelta,
						ToolCall: &ToolCallDelta{
							Index:             event.Index,
							ArgumentsFragment: event.Delta.PartialJSON,
						},
					}
				}
			}

		case "content_block_stop":
			delete(toolBlocks, event.Index)

		case "message_delta":
			if event.Usage != nil {
				usage.CompletionTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			events <- StreamEvent{Type: EventUsage, Usage: &usage}
			events <- StreamEvent{Type: EventDone}
			return

		case "error":
			message := "unknown error"
			if event.Error != nil {
				message = event.Error.Message
			}
			retryable := event.Error != nil && event.Error.Type == "overloaded_error"
			kind := "rejection"
			if retryable {
				kind = "transport"
			}
			events <- StreamEvent{
				Type: EventError,
				Err: &StreamError{
					Kind:      kind,
					Message:   message,
					Retryable: retryable,
				},
			}
			return
		}
	}

	events <- StreamEvent{Type: EventDone}
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Host+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &TransportError{Provider: "anthropic", Message: "list models failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apiError("anthropic", resp.StatusCode, body)
	}

	var list anthropicModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]string, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// buildRequest converts normalized messages into Anthropic's shape: the
// system prompt is a top-level field, tool results ride on user messages.
func (p *AnthropicProvider) buildRequest(req NormalizedRequest) anthropicRequest {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = p.config.MaxTokens
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			if out.System != "" {
				out.System += "\n\n"
			}
			out.System += msg.Content

		case RoleTool:
			out.Messages = append(out.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicContent{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case RoleAssistant:
			var content []anthropicContent
			if msg.Content != "" {
				content = append(content, anthropicContent{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropicContent{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Arguments,
				})
			}
			if len(content) == 0 {
				content = []anthropicContent{{Type: "text", Text: ""}}
			}
			out.Messages = append(out.Messages, anthropicMessage{Role: "assistant", Content: content})

		default:
			out.Messages = append(out.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicContent{{Type: "text", Text: msg.Content}},
			})
		}
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return out
}

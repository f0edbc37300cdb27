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

	"github.com/google/uuid"
	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/httpclient"
)

// OllamaProvider speaks the Ollama chat API. Ollama streams newline
// delimited JSON objects rather than SSE frames.
type OllamaProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaStreamResponse struct {
	Message struct {
		Role      string           `json:"role"`
		Content   string           `json:"content"`
		ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

type ollamaTagList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func NewOllamaProvider(cfg *config.LLMProviderConfig) *OllamaProvider {
	return &OllamaProvider{
		config: cfg,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.Timeout) * time.Second,
			}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
		),
	}
}

func (p *OllamaProvider) ModelName() string { return p.config.Model }

func (p *OllamaProvider) ContextWindow() int { return p.config.ContextWindow }

func (p *OllamaProvider) SupportsTools() bool {
	return p.config.SupportsTools != nil && *p.config.SupportsTools
}

func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) Stream(ctx context.Context, req NormalizedRequest) (<-chan StreamEvent, error) {
	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	events := make(chan StreamEvent, 64)
	go func() {
		defer close(events)
		p.streamResponse(httpReq, events)
	}()
	return events, nil
}

func (p *OllamaProvider) streamResponse(req *http.Request, events chan<- StreamEvent) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
			resp.Body.Close()
		}
		events <- streamErrorEvent("ollama", statusCode, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		events <- streamErrorEvent("ollama", resp.StatusCode, apiError("ollama", resp.StatusCode, body))
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Indexes must be unique across the whole stream: calls can arrive
	// on separate NDJSON lines, and reusing an index would make the
	// accumulator concatenate unrelated argument objects.
	toolCallIndex := 0

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}

		if chunk.Error != "" {
			events <- StreamEvent{
				Type: EventError,
				Err: &StreamError{
					Kind:      "rejection",
					Message:   chunk.Error,
					Retryable: false,
				},
			}
			return
		}

		if chunk.Message.Content != "" {
			events <- StreamEvent{Type: EventTokenDelta, Text: chunk.Message.Content}
		}

		// Ollama delivers tool calls whole, with already-parsed
		// arguments. Re-serialize so consumers see one fragment
		// carrying the complete argument object.
		for _, tc := range chunk.Message.ToolCalls {
			args, _ := json.Marshal(tc.Function.Arguments)
			events <- StreamEvent{
				Type: EventToolCallDelta,
				ToolCall: &ToolCallDelta{
					Index:             toolCallIndex,
					ID:                uuid.NewString(),
					Name:              tc.Function.Name,
					ArgumentsFragment: string(args),
				},
			}
			toolCallIndex++
		}

		if chunk.Done {
			events <- StreamEvent{
				Type: EventUsage,
				Usage: &Usage{
					PromptTokens:     chunk.PromptEvalCount,
					CompletionTokens: chunk.EvalCount,
					TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
				},
			}
			events <- StreamEvent{Type: EventDone}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		events <- streamErrorEvent("ollama", 0, fmt.Errorf("stream read failed: %w", err))
		return
	}

	events <- StreamEvent{Type: EventDone}
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, &TransportError{Provider: "ollama", Message: "list models failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apiError("ollama", resp.StatusCode, body)
	}

	var list ollamaTagList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

func (p *OllamaProvider) buildRequest(req NormalizedRequest) ollamaRequest {
	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		m := ollamaMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			m.ToolCalls = append(m.ToolCalls, call)
		}
		messages = append(messages, m)
	}

	out := ollamaRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   req.Stream,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolFunction(tool),
		})
	}
	return out
}

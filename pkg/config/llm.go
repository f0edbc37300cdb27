package config

import "fmt"

// LLMProviderConfig configures a single model provider endpoint.
type LLMProviderConfig struct {
	// Type selects the provider adapter (openai, anthropic, ollama).
	Type string `yaml:"type"`

	// Model is the provider-side model identifier.
	Model string `yaml:"model"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty"`

	// Temperature for sampling.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// ContextWindow is the model's input token budget. Used when truncating
	// history and trimming retrieved context.
	ContextWindow int `yaml:"context_window,omitempty"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries is the transport-level retry count (429/5xx).
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay is the base retry delay in seconds.
	RetryDelay int `yaml:"retry_delay,omitempty"`

	// SupportsTools marks the model as capable of tool calling.
	SupportsTools *bool `yaml:"supports_tools,omitempty"`
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "anthropic":
			c.Model = "claude-sonnet-4-20250514"
		case "ollama":
			c.Model = "llama3.2"
		default:
			c.Model = "gpt-4o"
		}
	}
	if c.Host == "" {
		switch c.Type {
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		case "ollama":
			c.Host = "http://localhost:11434"
		default:
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.ContextWindow == 0 {
		c.ContextWindow = 128000
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 2
	}
	if c.SupportsTools == nil {
		c.SupportsTools = BoolPtr(true)
	}
}

func (c *LLMProviderConfig) Validate() error {
	switch c.Type {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("unsupported llm provider type: %q", c.Type)
	}
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Type != "ollama" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider type %q", c.Type)
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %v", *c.Temperature)
	}
	return nil
}

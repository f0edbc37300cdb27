package config

import "fmt"

// EmbedderConfig configures an embedding provider.
type EmbedderConfig struct {
	// Type selects the embedder adapter (openai, ollama).
	Type string `yaml:"type"`

	// Model is the embedding model identifier.
	Model string `yaml:"model"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Host overrides the default API endpoint.
	Host string `yaml:"host,omitempty"`

	// Dimension is the embedding vector size.
	Dimension int `yaml:"dimension,omitempty"`

	// BatchSize is the number of texts embedded per API call.
	BatchSize int `yaml:"batch_size,omitempty"`

	// Concurrency bounds the number of in-flight embedding batches.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Timeout is the per-call timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`

	// MaxRetries is the transport-level retry count.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		switch c.Type {
		case "ollama":
			c.Model = "nomic-embed-text"
		default:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Host == "" {
		switch c.Type {
		case "ollama":
			c.Host = "http://localhost:11434"
		default:
			c.Host = "https://api.openai.com/v1"
		}
	}
	if c.Dimension == 0 {
		switch c.Type {
		case "ollama":
			c.Dimension = 768
		default:
			c.Dimension = 1536
		}
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

func (c *EmbedderConfig) Validate() error {
	switch c.Type {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unsupported embedder type: %q", c.Type)
	}
	if c.Type != "ollama" && c.APIKey == "" {
		return fmt.Errorf("api_key is required for embedder type %q", c.Type)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive, got %d", c.Dimension)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("embedder concurrency must be at least 1, got %d", c.Concurrency)
	}
	return nil
}

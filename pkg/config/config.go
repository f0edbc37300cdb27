// Package config defines the YAML configuration schema for the platform,
// with environment variable expansion, defaulting and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Server      ServerConfig                  `yaml:"server,omitempty"`
	Logging     LoggingConfig                 `yaml:"logging,omitempty"`
	LLMs        map[string]*LLMProviderConfig `yaml:"llms,omitempty"`
	Embedders   map[string]*EmbedderConfig    `yaml:"embedders,omitempty"`
	VectorStore VectorStoreConfig             `yaml:"vector_store,omitempty"`
	Retrieval   RetrievalConfig               `yaml:"retrieval,omitempty"`
	Chunking    ChunkingConfig                `yaml:"chunking,omitempty"`
	Chat        ChatConfig                    `yaml:"chat,omitempty"`
	Persistence PersistenceConfig             `yaml:"persistence,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Chunking.SetDefaults()
	c.Chat.SetDefaults()
	c.Persistence.SetDefaults()

	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	for _, emb := range c.Embedders {
		emb.SetDefaults()
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Chunking.Validate(); err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if err := c.Chat.Validate(); err != nil {
		return fmt.Errorf("chat: %w", err)
	}
	if err := c.Persistence.Validate(); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	if len(c.LLMs) == 0 {
		return fmt.Errorf("at least one llm provider must be configured")
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	for name, emb := range c.Embedders {
		if err := emb.Validate(); err != nil {
			return fmt.Errorf("embedders.%s: %w", name, err)
		}
	}
	return nil
}

// Load reads a YAML config file, expands environment variable references,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

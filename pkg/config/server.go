package config

import "fmt"

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// ReadTimeout and WriteTimeout in seconds. WriteTimeout of 0 keeps
	// streaming responses open indefinitely.
	ReadTimeout  int `yaml:"read_timeout,omitempty"`
	WriteTimeout int `yaml:"write_timeout,omitempty"`

	Auth AuthConfig `yaml:"auth,omitempty"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30
	}
	c.Auth.SetDefaults()
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Port)
	}
	return c.Auth.Validate()
}

// AuthConfig configures JWT verification for incoming requests.
// An empty secret disables authentication.
type AuthConfig struct {
	// Secret is the HMAC signing key. Supports ${VAR} expansion.
	Secret string `yaml:"secret,omitempty"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `yaml:"issuer,omitempty"`

	// Audience, when set, must match one of the token's aud claims.
	Audience string `yaml:"audience,omitempty"`
}

func (c *AuthConfig) SetDefaults() {}

func (c *AuthConfig) Validate() error {
	if c.Secret == "" && (c.Issuer != "" || c.Audience != "") {
		return fmt.Errorf("auth issuer/audience set but no secret configured")
	}
	return nil
}

// ChatConfig tunes the chat orchestration pipeline.
type ChatConfig struct {
	// MaxToolRounds caps tool-call iterations per request.
	MaxToolRounds int `yaml:"max_tool_rounds,omitempty"`

	// ToolTimeout is the per-tool execution timeout in seconds.
	ToolTimeout int `yaml:"tool_timeout,omitempty"`

	// ProviderRetries is the number of retry attempts after a retryable
	// provider failure. The pipeline retries at most once by default.
	ProviderRetries int `yaml:"provider_retries,omitempty"`

	// RetryBackoff is the base backoff in milliseconds before a retry.
	RetryBackoff int `yaml:"retry_backoff,omitempty"`

	// CancelGrace is how long in milliseconds a cancelled request may take
	// to emit its terminal event.
	CancelGrace int `yaml:"cancel_grace,omitempty"`

	// ModelRefreshInterval is how often in seconds the model catalog is
	// refreshed from providers. Zero disables background refresh.
	ModelRefreshInterval int `yaml:"model_refresh_interval,omitempty"`

	// HistoryTokenBudget caps the token count of conversation history
	// included in a prompt. Zero derives it from the model context window.
	HistoryTokenBudget int `yaml:"history_token_budget,omitempty"`
}

func (c *ChatConfig) SetDefaults() {
	if c.MaxToolRounds == 0 {
		c.MaxToolRounds = 8
	}
	if c.ToolTimeout == 0 {
		c.ToolTimeout = 30
	}
	if c.ProviderRetries == 0 {
		c.ProviderRetries = 1
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500
	}
	if c.CancelGrace == 0 {
		c.CancelGrace = 2000
	}
	if c.ModelRefreshInterval == 0 {
		c.ModelRefreshInterval = 300
	}
}

func (c *ChatConfig) Validate() error {
	if c.MaxToolRounds < 1 {
		return fmt.Errorf("max_tool_rounds must be at least 1, got %d", c.MaxToolRounds)
	}
	if c.ProviderRetries < 0 {
		return fmt.Errorf("provider_retries cannot be negative, got %d", c.ProviderRetries)
	}
	return nil
}

// PersistenceConfig configures durable storage for conversations and
// document metadata.
type PersistenceConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything
	// in-process.
	Path string `yaml:"path,omitempty"`
}

func (c *PersistenceConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "parley.db"
	}
}

func (c *PersistenceConfig) Validate() error { return nil }

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is text or json.
	Format string `yaml:"format,omitempty"`

	// File redirects log output to a file. Empty logs to stderr.
	File string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Level)
	}
	switch c.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Format)
	}
	return nil
}

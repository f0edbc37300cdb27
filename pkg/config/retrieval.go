package config

import "fmt"

// VectorStoreConfig configures the vector database backend.
type VectorStoreConfig struct {
	// Type selects the backend (chromem, qdrant).
	Type string `yaml:"type"`

	// Host for remote backends.
	Host string `yaml:"host,omitempty"`

	// Port for remote backends.
	Port int `yaml:"port,omitempty"`

	// APIKey for remote backends.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for remote connections.
	UseTLS bool `yaml:"use_tls,omitempty"`

	// PersistPath is the on-disk directory for the embedded backend.
	// Empty means in-memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression of persisted collections.
	Compress bool `yaml:"compress,omitempty"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 6334
		}
	}
}

func (c *VectorStoreConfig) Validate() error {
	switch c.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unsupported vector store type: %q", c.Type)
	}
	if c.Type == "qdrant" && c.Host == "" {
		return fmt.Errorf("qdrant vector store requires a host")
	}
	return nil
}

// RetrievalConfig tunes hybrid retrieval and result fusion.
type RetrievalConfig struct {
	// Hybrid enables combining vector and lexical search. When false only
	// the vector index is queried.
	Hybrid *bool `yaml:"hybrid,omitempty"`

	// TopK is the number of fused results returned to the caller.
	TopK int `yaml:"top_k,omitempty"`

	// VectorK is the candidate count requested from the vector index.
	VectorK int `yaml:"vector_k,omitempty"`

	// LexicalK is the candidate count requested from the lexical index.
	LexicalK int `yaml:"lexical_k,omitempty"`

	// RRFConstant dampens the contribution of lower-ranked candidates in
	// reciprocal rank fusion.
	RRFConstant int `yaml:"rrf_constant,omitempty"`

	// ContextTokenBudget caps the total token count of retrieved context
	// injected into a prompt. Zero disables trimming.
	ContextTokenBudget int `yaml:"context_token_budget,omitempty"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.Hybrid == nil {
		c.Hybrid = BoolPtr(true)
	}
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.VectorK == 0 {
		c.VectorK = c.TopK * 2
	}
	if c.LexicalK == 0 {
		c.LexicalK = c.TopK * 2
	}
	if c.RRFConstant == 0 {
		c.RRFConstant = 60
	}
	if c.ContextTokenBudget == 0 {
		c.ContextTokenBudget = 4000
	}
}

func (c *RetrievalConfig) Validate() error {
	if c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", c.TopK)
	}
	if c.VectorK < c.TopK {
		return fmt.Errorf("vector_k (%d) must be >= top_k (%d)", c.VectorK, c.TopK)
	}
	if c.LexicalK < c.TopK {
		return fmt.Errorf("lexical_k (%d) must be >= top_k (%d)", c.LexicalK, c.TopK)
	}
	if c.RRFConstant < 1 {
		return fmt.Errorf("rrf_constant must be positive, got %d", c.RRFConstant)
	}
	return nil
}

// ChunkingConfig controls how documents are split before indexing.
type ChunkingConfig struct {
	// WindowSize is the chunk length in tokens.
	WindowSize int `yaml:"window_size,omitempty"`

	// Overlap is the token overlap between consecutive chunks.
	Overlap int `yaml:"overlap,omitempty"`

	// TokenModel selects the tokenizer encoding used for chunk boundaries.
	TokenModel string `yaml:"token_model,omitempty"`
}

func (c *ChunkingConfig) SetDefaults() {
	if c.WindowSize == 0 {
		c.WindowSize = 512
	}
	if c.Overlap == 0 {
		c.Overlap = 64
	}
	if c.TokenModel == "" {
		c.TokenModel = "gpt-4o"
	}
}

func (c *ChunkingConfig) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.WindowSize {
		return fmt.Errorf("overlap (%d) must be smaller than window_size (%d)", c.Overlap, c.WindowSize)
	}
	return nil
}

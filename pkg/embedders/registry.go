package embedders

import (
	"fmt"

	"github.com/parley-chat/parley/pkg/config"
)

// NewEmbedder constructs the embedder variant named by cfg.Type.
func NewEmbedder(cfg *config.EmbedderConfig) (Embedder, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported embedder type: %q", cfg.Type)
	}
}

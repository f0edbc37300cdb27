package vector

import (
	"fmt"

	"github.com/parley-chat/parley/pkg/config"
)

// New constructs the configured store backend.
func New(cfg *config.VectorStoreConfig, dimension int) (Store, error) {
	switch cfg.Type {
	case "chromem":
		return NewChromemStore(cfg.PersistPath, cfg.Compress)
	case "qdrant":
		return NewQdrantStore(cfg.Host, cfg.Port, cfg.APIKey, cfg.UseTLS, dimension)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %q", cfg.Type)
	}
}

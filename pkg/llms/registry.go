package llms

import (
	"fmt"

	"github.com/parley-chat/parley/pkg/config"
	"github.com/parley-chat/parley/pkg/registry"
)

// ProviderRegistry holds named provider adapters.
type ProviderRegistry struct {
	*registry.BaseRegistry[Provider]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		BaseRegistry: registry.NewBaseRegistry[Provider](),
	}
}

// NewProvider constructs the adapter variant named by cfg.Type. Adding a
// provider means adding a case here, not branching in callers.
func NewProvider(cfg *config.LLMProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider type: %q", cfg.Type)
	}
}

// RegisterFromConfig builds and registers every configured provider.
func (r *ProviderRegistry) RegisterFromConfig(providers map[string]*config.LLMProviderConfig) error {
	for name, cfg := range providers {
		provider, err := NewProvider(cfg)
		if err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
		if err := r.Register(name, provider); err != nil {
			return fmt.Errorf("provider %q: %w", name, err)
		}
	}
	return nil
}

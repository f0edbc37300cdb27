package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/parley-chat/parley/pkg/llms"
)

// ModelSpec describes one usable model for request validation and UI
// listing.
type ModelSpec struct {
	ID            string `json:"id"`
	Model         string `json:"model"`
	ContextWindow int    `json:"contextWindow"`
	SupportsTools bool   `json:"supportsTools"`

	// Available reflects the last provider model listing. A provider
	// whose listing call failed stays in the catalog as unavailable so
	// the UI can show it greyed out.
	Available bool `json:"available"`
}

// Catalog is the process-wide model availability cache. It is populated
// at startup and replaced atomically on refresh; readers never observe a
// partial update.
type Catalog struct {
	providers *llms.ProviderRegistry
	specs     atomic.Pointer[map[string]ModelSpec]
	interval  time.Duration
}

func NewCatalog(providers *llms.ProviderRegistry, refreshInterval time.Duration) *Catalog {
	c := &Catalog{
		providers: providers,
		interval:  refreshInterval,
	}
	empty := map[string]ModelSpec{}
	c.specs.Store(&empty)
	return c
}

// Refresh rebuilds the catalog from every registered provider and swaps
// it in atomically.
func (c *Catalog) Refresh(ctx context.Context) {
	names := c.providers.Names()
	next := make(map[string]ModelSpec, len(names))

	for _, name := range names {
		provider, ok := c.providers.Get(name)
		if !ok {
			continue
		}
		spec := ModelSpec{
			ID:            name,
			Model:         provider.ModelName(),
			ContextWindow: provider.ContextWindow(),
			SupportsTools: provider.SupportsTools(),
		}
		models, err := provider.ListModels(ctx)
		if err != nil {
			slog.Warn("model listing failed", "provider", name, "error", err)
		} else {
			for _, model := range models {
				if model == spec.Model {
					spec.Available = true
					break
				}
			}
			// Some gateways answer the listing call with an empty set;
			// a successful call still proves the provider reachable.
			if !spec.Available && len(models) == 0 {
				spec.Available = true
			}
		}
		next[name] = spec
	}

	c.specs.Store(&next)
}

// Start refreshes immediately and then on the configured interval until
// ctx is cancelled. A zero interval disables background refresh.
func (c *Catalog) Start(ctx context.Context) {
	c.Refresh(ctx)
	if c.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Refresh(ctx)
			}
		}
	}()
}

// Get looks up a model spec by its registry id.
func (c *Catalog) Get(id string) (ModelSpec, bool) {
	specs := *c.specs.Load()
	spec, ok := specs[id]
	return spec, ok
}

// List returns all known specs sorted by id.
func (c *Catalog) List() []ModelSpec {
	specs := *c.specs.Load()
	out := make([]ModelSpec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

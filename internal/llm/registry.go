package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/logging"
)

// Registry manages LLM provider clients by name.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	order    []string          // registration order, primary first
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name. The first
// registered client becomes the fallback unless SetFallback overrides it.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; !exists {
		r.order = append(r.order, name)
	}
	r.clients[name] = client
	if r.fallback == "" {
		r.fallback = name
	}
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the default provider used when no name or alias matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client for the given reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(ref string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[ref]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[ref]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for %q", ref)
}

// Order returns provider names in registration order.
func (r *Registry) Order() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns all registered provider names sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers the primary provider under its provider
// name followed by every configured fallback, and aliases each client's
// model name to it.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	reg.Register(cfg.Provider, NewOpenAIClient(OpenAIOptions{
		Name:    cfg.Provider,
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout(),
	}))
	if cfg.Model != "" {
		reg.Alias(cfg.Model, cfg.Provider)
	}

	for _, fb := range cfg.Fallbacks {
		if fb.Name == cfg.Provider {
			reg.log.Warn().Str("provider", fb.Name).Msg("fallback shadows primary provider, skipping")
			continue
		}
		reg.Register(fb.Name, NewOpenAIClient(OpenAIOptions{
			Name:    fb.Name,
			BaseURL: fb.BaseURL,
			APIKey:  fb.APIKey,
			Model:   fb.Model,
			Timeout: cfg.Timeout(),
		}))
		if fb.Model != "" && fb.Model != cfg.Model {
			reg.Alias(fb.Model, fb.Name)
		}
	}

	reg.SetFallback(cfg.Provider)
	return reg
}

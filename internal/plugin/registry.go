package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/tools"
)

// entry tracks one plugin through its lifecycle.
type entry struct {
	plugin Plugin
	tools  []string // tool names the plugin added during Init
	active bool
}

// Registry initializes plugins in registration order and closes them in
// reverse. Each plugin's tools land in the shared tool registry.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
	hooks   *hooks.Manager
	tools   *tools.Registry
	log     *logging.Logger
}

// NewRegistry creates a plugin registry. Plugins register their tools
// into tr during InitAll.
func NewRegistry(hm *hooks.Manager, tr *tools.Registry, log *logging.Logger) *Registry {
	return &Registry{
		hooks: hm,
		tools: tr,
		log:   log.Sub("plugins"),
	}
}

// Register adds a plugin without initializing it.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.find(p.ID()) != nil {
		return fmt.Errorf("plugin already registered: %s", p.ID())
	}
	r.entries = append(r.entries, &entry{plugin: p})

	r.log.Debug().
		Str("id", p.ID()).
		Str("version", p.Version()).
		Msg("plugin registered")
	return nil
}

func (r *Registry) find(id string) *entry {
	for _, e := range r.entries {
		if e.plugin.ID() == id {
			return e
		}
	}
	return nil
}

// InitAll initializes every pending plugin. If one fails, the plugins
// started by this call are closed again before the error is returned.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var started []*entry
	for _, e := range r.entries {
		if e.active {
			continue
		}
		id := e.plugin.ID()
		before := r.toolNames()

		err := e.plugin.Init(ctx, API{Tools: r.tools, Hooks: r.hooks, Log: r.log.Sub(id)})
		if err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				r.close(started[i])
			}
			return fmt.Errorf("init plugin %s: %w", id, err)
		}

		for _, name := range r.toolNames() {
			if !slices.Contains(before, name) {
				e.tools = append(e.tools, name)
			}
		}
		e.active = true
		started = append(started, e)

		r.log.Info().Str("id", id).Strs("tools", e.tools).Msg("plugin initialized")
	}
	return nil
}

func (r *Registry) toolNames() []string {
	list := r.tools.List()
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.Name
	}
	return names
}

// CloseAll shuts down initialized plugins in reverse registration order.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.entries) - 1; i >= 0; i-- {
		r.close(r.entries[i])
	}
}

func (r *Registry) close(e *entry) {
	if !e.active {
		return
	}
	e.active = false
	if err := e.plugin.Close(); err != nil {
		r.log.Error().Err(err).Str("id", e.plugin.ID()).Msg("plugin close error")
	}
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Info describes every registered plugin in registration order.
func (r *Registry) Info() []PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]PluginInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, PluginInfo{
			ID:      e.plugin.ID(),
			Name:    e.plugin.Name(),
			Version: e.plugin.Version(),
			Active:  e.active,
			Tools:   slices.Clone(e.tools),
		})
	}
	return infos
}

// PluginInfo holds summary data about a plugin.
type PluginInfo struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Active  bool     `json:"active"`
	Tools   []string `json:"tools,omitempty"`
}

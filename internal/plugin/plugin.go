// Package plugin extends the agent with tool sets that have a lifecycle.
package plugin

import (
	"context"

	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/tools"
)

// Plugin contributes tools and hook handlers to the agent.
type Plugin interface {
	ID() string
	Name() string
	Version() string

	// Init registers the plugin's tools and hooks through api.
	Init(ctx context.Context, api API) error

	// Close releases whatever Init acquired.
	Close() error
}

// API is what a plugin receives during Init.
type API struct {
	Tools *tools.Registry
	Hooks *hooks.Manager
	Log   *logging.Logger
}

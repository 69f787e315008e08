// Package tools holds the tool registry the agent exposes to the model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
)

var (
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrToolNotFound is returned when executing an unknown tool.
	ErrToolNotFound = errors.New("tool not found")
)

// ExecuteFunc runs a tool with validated arguments.
type ExecuteFunc func(ctx context.Context, args Args) (Result, error)

// Metadata describes a registered tool.
type Metadata struct {
	Name                 string
	Description          string
	Schema               Schema
	RequiresConfirmation bool
	Category             string
	Execute              ExecuteFunc
}

// Result is the structured outcome of a tool run. It is what the model
// sees, serialized as JSON, in the tool message.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// OK builds a successful result.
func OK(data any) Result { return Result{Success: true, Data: data} }

// Fail builds a failed result with a message.
func Fail(format string, a ...any) Result {
	return Result{Success: false, Message: fmt.Sprintf(format, a...)}
}

// JSON returns the result encoded for a tool message.
func (r Result) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		fallback, _ := json.Marshal(Result{Success: false, Message: "unencodable tool result"})
		return string(fallback)
	}
	return string(data)
}

// Info is a human-readable description of a tool.
type Info struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	Category             string   `json:"category,omitempty"`
	Required             []string `json:"required"`
	Optional             []string `json:"optional"`
	RequiresConfirmation bool     `json:"requiresConfirmation"`
	Schema               Schema   `json:"schema"`
}

// Registry holds the available tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Metadata
	order []string
	log   *logging.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		tools: make(map[string]Metadata),
		log:   log.Sub("tools"),
	}
}

// Register adds a tool. Names are unique.
func (r *Registry) Register(meta Metadata) error {
	if meta.Name == "" {
		return errors.New("tool name is required")
	}
	if meta.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", meta.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[meta.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, meta.Name)
	}
	r.tools[meta.Name] = meta
	r.order = append(r.order, meta.Name)
	r.log.Debug().Str("tool", meta.Name).Bool("confirm", meta.RequiresConfirmation).Msg("registered tool")
	return nil
}

// Get returns a tool's metadata.
func (r *Registry) Get(name string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.tools[name]
	return m, ok
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns the metadata of every tool in registration order.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// RequiresConfirmation reports whether the named tool is gated. Unknown
// tools are not.
func (r *Registry) RequiresConfirmation(name string) bool {
	m, ok := r.Get(name)
	return ok && m.RequiresConfirmation
}

// Execute validates args and runs the tool. Validation failures, tool
// errors and panics come back as unsuccessful Results; only an unknown
// name is an error.
func (r *Registry) Execute(ctx context.Context, name string, args Args) (res Result, err error) {
	meta, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = Args{}
	}
	if verr := meta.Schema.Validate(args); verr != nil {
		return Result{Success: false, Message: verr.Error()}, nil
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Str("tool", name).Interface("panic", p).Msg("tool panicked")
			res = Fail("tool %s failed: %v", name, p)
			err = nil
		}
	}()

	res, terr := meta.Execute(ctx, args)
	if terr != nil {
		r.log.Warn().Str("tool", name).Err(terr).Msg("tool returned error")
		return Result{Success: false, Message: terr.Error()}, nil
	}
	return res, nil
}

// ProviderSpecs exports every tool as a chat-completion tool declaration.
func (r *Registry) ProviderSpecs() []llm.ToolSpec {
	list := r.List()
	specs := make([]llm.ToolSpec, 0, len(list))
	for _, m := range list {
		specs = append(specs, llm.ToolSpec{
			Name:        m.Name,
			Description: m.Description,
			Parameters:  OpenAIParameters(m.Schema),
		})
	}
	return specs
}

// Describe returns a human-readable enumeration of the tools.
func (r *Registry) Describe() []Info {
	list := r.List()
	out := make([]Info, 0, len(list))
	for _, m := range list {
		out = append(out, Info{
			Name:                 m.Name,
			Description:          m.Description,
			Category:             m.Category,
			Required:             m.Schema.Required(),
			Optional:             m.Schema.Optional(),
			RequiresConfirmation: m.RequiresConfirmation,
			Schema:               m.Schema,
		})
	}
	return out
}

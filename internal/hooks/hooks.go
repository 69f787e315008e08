// Package hooks dispatches agent lifecycle events to registered handlers.
package hooks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/shopagent/internal/logging"
)

// Event names.
const (
	EventTurnStarted           = "turn.started"
	EventTurnFinished          = "turn.finished"
	EventToolExecuted          = "tool.executed"
	EventConfirmationRequested = "confirmation.requested"
	EventSummaryCreated        = "summary.created"
	EventDocumentIndexed       = "document.indexed"
	EventGatewayStart          = "gateway.start"
	EventGatewayStop           = "gateway.stop"
)

// AllEvents lists every event the agent emits.
var AllEvents = []string{
	EventTurnStarted,
	EventTurnFinished,
	EventToolExecuted,
	EventConfirmationRequested,
	EventSummaryCreated,
	EventDocumentIndexed,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload is what a handler receives. Time is when the event was emitted.
type Payload struct {
	Event string         `json:"event"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler reacts to one event. A returned error or panic is logged and
// never reaches the emitter.
type Handler func(ctx context.Context, p Payload) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager holds handlers per event. The zero value is not usable; a nil
// *Manager drops every event.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
	now      func() time.Time
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
		now:      time.Now,
	}
}

// On registers handler under name. Unknown event names are accepted but
// logged, since nothing will ever emit them.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})

	if !slices.Contains(AllEvents, event) {
		m.log.Warn().Str("event", event).Str("handler", name).Msg("hook registered for unknown event")
		return
	}
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler called name from event and reports how many
// were removed.
func (m *Manager) Off(event, name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := len(m.handlers[event])
	m.handlers[event] = slices.DeleteFunc(m.handlers[event], func(h namedHandler) bool {
		return h.name == name
	})
	return before - len(m.handlers[event])
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.handlers[event])
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if v := recover(); v != nil {
			m.log.Error().
				Str("event", p.Event).
				Str("handler", h.name).
				Str("panic", fmt.Sprint(v)).
				Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Emit runs the handlers for event in registration order and returns once
// all of them have finished.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	p := Payload{Event: event, Time: m.now(), Data: data}
	for _, h := range handlers {
		m.call(ctx, h, p)
	}
}

// EmitAsync runs each handler for event in its own goroutine and returns
// immediately. Wait blocks until they are done.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	p := Payload{Event: event, Time: m.now(), Data: data}
	for _, h := range handlers {
		m.inflight.Go(func() { m.call(ctx, h, p) })
	}
}

// Wait blocks until every handler started by EmitAsync has returned, or
// ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	if m == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events that have at least one handler, sorted.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

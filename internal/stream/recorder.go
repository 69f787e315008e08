package stream

import (
	"strings"
	"sync"
)

// Recorder is an in-memory Transport for tests and local runs.
type Recorder struct {
	mu         sync.Mutex
	events     []Event
	heartbeats int
	closed     int
	OnEmit     func(Event)
}

var _ Transport = (*Recorder)(nil)

func (r *Recorder) Emit(ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	cb := r.OnEmit
	r.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
	return nil
}

func (r *Recorder) Heartbeat() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.heartbeats++
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Text concatenates every TEXT_MESSAGE_CONTENT delta.
func (r *Recorder) Text() string {
	var sb strings.Builder
	for _, ev := range r.Events() {
		if ev.Type == TextMessageContent {
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String()
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Heartbeats returns how many heartbeats were sent.
func (r *Recorder) Heartbeats() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.heartbeats
}

// Closed reports how many times Close was called.
func (r *Recorder) Closed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

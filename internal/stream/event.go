// Package stream defines the turn event protocol and its transports.
package stream

import (
	"time"
)

// EventType names a turn event.
type EventType string

const (
	RunStarted         EventType = "RUN_STARTED"
	RunFinished        EventType = "RUN_FINISHED"
	RunError           EventType = "RUN_ERROR"
	TextMessageContent EventType = "TEXT_MESSAGE_CONTENT"
	ToolCallStart      EventType = "TOOL_CALL_START"
	ToolCallArgs       EventType = "TOOL_CALL_ARGS"
	ToolCallResult     EventType = "TOOL_CALL_RESULT"
)

// Event is one frame of a turn. Timestamp is unix milliseconds.
type Event struct {
	Type           EventType `json:"type"`
	RunID          string    `json:"runId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	Delta          string    `json:"delta,omitempty"`
	ToolCallID     string    `json:"toolCallId,omitempty"`
	ToolCallName   string    `json:"toolCallName,omitempty"`
	Content        string    `json:"content,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      int64     `json:"timestamp"`
}

// Sink receives turn events.
type Sink interface {
	Emit(ev Event) error
}

// Transport is a Sink bound to a client connection. Close writes any
// terminal frame and is safe to call more than once.
type Transport interface {
	Sink
	Heartbeat() error
	Close() error
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) error { return nil }

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

// Emit calls f.
func (f SinkFunc) Emit(ev Event) error { return f(ev) }

// Emitter stamps run and conversation ids onto events for one turn.
type Emitter struct {
	sink           Sink
	runID          string
	conversationID string
	messageID      string
	now            func() time.Time
}

// NewEmitter creates an emitter writing to sink.
func NewEmitter(sink Sink, runID, conversationID, messageID string) *Emitter {
	if sink == nil {
		sink = Discard
	}
	return &Emitter{sink: sink, runID: runID, conversationID: conversationID, messageID: messageID, now: time.Now}
}

// RunID returns the run id stamped on every event.
func (e *Emitter) RunID() string { return e.runID }

func (e *Emitter) emit(ev Event) error {
	ev.RunID = e.runID
	ev.ConversationID = e.conversationID
	ev.Timestamp = e.now().UnixMilli()
	return e.sink.Emit(ev)
}

func (e *Emitter) Started() error {
	return e.emit(Event{Type: RunStarted})
}

func (e *Emitter) Finished() error {
	return e.emit(Event{Type: RunFinished})
}

func (e *Emitter) Failed(message string) error {
	return e.emit(Event{Type: RunError, Message: message})
}

func (e *Emitter) Text(delta string) error {
	if delta == "" {
		return nil
	}
	return e.emit(Event{Type: TextMessageContent, MessageID: e.messageID, Delta: delta})
}

func (e *Emitter) ToolStart(id, name string) error {
	return e.emit(Event{Type: ToolCallStart, ToolCallID: id, ToolCallName: name})
}

func (e *Emitter) ToolArgs(id, delta string) error {
	return e.emit(Event{Type: ToolCallArgs, ToolCallID: id, Delta: delta})
}

func (e *Emitter) ToolResult(id, name, content string) error {
	return e.emit(Event{Type: ToolCallResult, ToolCallID: id, ToolCallName: name, Content: content})
}

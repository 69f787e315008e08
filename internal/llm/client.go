// Package llm defines the chat-completion and embedding contracts and an
// HTTP client for OpenAI-compatible endpoints (OpenAI, OpenRouter, vLLM,
// Ollama's /v1 API).
package llm

import (
	"context"
	"time"
)

// Role constants for messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single role-tagged entry sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is a complete tool invocation requested by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text
}

// ToolSpec declares a tool to the model. Parameters is a JSON-schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool choice modes.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
	ToolChoiceFunction = "function"
)

// ToolChoice directs whether and which tool the model must call.
type ToolChoice struct {
	Mode     string `json:"mode"`
	Function string `json:"function,omitempty"` // set when Mode is "function"
}

// ForceTool returns a directive that forces the named tool.
func ForceTool(name string) *ToolChoice {
	return &ToolChoice{Mode: ToolChoiceFunction, Function: name}
}

// CompletionRequest is the input to a Complete or Stream call.
type CompletionRequest struct {
	Model       string      `json:"model,omitempty"`
	System      string      `json:"system,omitempty"`
	Messages    []Message   `json:"messages"`
	Tools       []ToolSpec  `json:"tools,omitempty"`
	ToolChoice  *ToolChoice `json:"toolChoice,omitempty"`
	MaxTokens   int         `json:"maxTokens,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

// CompletionResponse is the result of a completion.
type CompletionResponse struct {
	Content      string        `json:"content"`
	ToolCalls    []ToolCall    `json:"toolCalls,omitempty"`
	FinishReason string        `json:"finishReason,omitempty"`
	Usage        Usage         `json:"usage"`
	Model        string        `json:"model,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEventType discriminates StreamEvent variants.
type StreamEventType string

const (
	EventTextDelta     StreamEventType = "text_delta"
	EventToolCallDelta StreamEventType = "tool_call_delta"
	EventDone          StreamEventType = "done"
	EventError         StreamEventType = "error"
)

// ToolCallDelta is one fragment of a streamed tool call. Index identifies
// the call; ID and Name usually arrive only on the first fragment while
// Arguments arrive as partial JSON text.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// StreamEvent is a decoded streaming chunk. Exactly one payload field is
// set, selected by Type: Text for text deltas, ToolCall for tool-call
// deltas, Response for done and Err for error.
type StreamEvent struct {
	Type     StreamEventType
	Text     string
	ToolCall *ToolCallDelta
	Response *CompletionResponse
	Err      error
}

// TextDelta builds a text-delta event.
func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ToolCallFragment builds a tool-call-delta event.
func ToolCallFragment(d ToolCallDelta) StreamEvent {
	return StreamEvent{Type: EventToolCallDelta, ToolCall: &d}
}

// Done builds the terminal success event.
func Done(resp *CompletionResponse) StreamEvent {
	return StreamEvent{Type: EventDone, Response: resp}
}

// Failed builds the terminal error event.
func Failed(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// Client is the interface all chat-completion providers implement.
type Client interface {
	// Complete sends a request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream sends a request and returns a channel of decoded events. The
	// channel is closed after a done or error event.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	// Name returns the provider name.
	Name() string
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

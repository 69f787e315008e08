// Package domain holds the data types shared by the agent, memory and
// retrieval packages.
package domain

import (
	"strings"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single entry in a conversation log. It is immutable once
// appended.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
	CreatedAt  time.Time  `json:"createdAt,omitempty"`
}

// ToolCall is a model-requested tool invocation. Arguments is JSON text.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Text returns the message content with surrounding whitespace removed.
func (m Message) Text() string { return strings.TrimSpace(m.Content) }

// PendingToolCall is a confirmation-gated tool call awaiting user approval.
// At most one exists per conversation.
type PendingToolCall struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	ToolName       string         `json:"toolName"`
	Args           map[string]any `json:"args"`
	CreatedAt      time.Time      `json:"createdAt"`
}

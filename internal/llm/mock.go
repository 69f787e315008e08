package llm

import (
	"context"
	"strings"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response"}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return StreamOf(TextDelta("mock "), Done(&CompletionResponse{Content: "mock stream response"})), nil
}

// Embed makes MockClient usable as an Embedder.
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

// StreamOf returns a closed, pre-filled channel of events.
func StreamOf(events ...StreamEvent) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

// TextStream emits the text split into word-sized deltas followed by done.
func TextStream(text string) <-chan StreamEvent {
	var events []StreamEvent
	for _, w := range strings.SplitAfter(text, " ") {
		if w != "" {
			events = append(events, TextDelta(w))
		}
	}
	events = append(events, Done(&CompletionResponse{Content: text, FinishReason: "stop"}))
	return StreamOf(events...)
}

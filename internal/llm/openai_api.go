package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/version"
)

// OpenAIClient is a direct HTTP client for OpenAI-compatible chat
// completion endpoints.
type OpenAIClient struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// OpenAIOptions configures an OpenAIClient.
type OpenAIOptions struct {
	Name    string // provider name reported by Name(); defaults to "openai"
	BaseURL string // e.g. "https://api.openai.com/v1"
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewOpenAIClient creates a new OpenAI-compatible client.
func NewOpenAIClient(opts OpenAIOptions) *OpenAIClient {
	if opts.Name == "" {
		opts.Name = "openai"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &OpenAIClient{
		name:    opts.Name,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// Complete sends a non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, c.buildRequestBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w", c.name, ErrNoChoices)
	}

	choice := result.Choices[0]
	out := &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Model:        result.Model,
		Duration:     time.Since(start),
	}
	if result.Usage != nil {
		out.Usage = Usage{InputTokens: result.Usage.PromptTokens, OutputTokens: result.Usage.CompletionTokens}
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// Stream sends a streaming completion request. HTTP-level failures are
// returned directly so callers can fail over before any event is emitted.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	resp, err := c.post(ctx, c.buildRequestBody(req, true))
	if err != nil {
		return nil, err
	}

	eventChan := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, eventChan)
	return eventChan, nil
}

func (c *OpenAIClient) post(ctx context.Context, body openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if body.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, providerErrorFromResponse(c.name, resp)
	}
	return resp, nil
}

func (c *OpenAIClient) readStream(ctx context.Context, body io.ReadCloser, eventChan chan<- StreamEvent) {
	defer close(eventChan)
	defer body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case eventChan <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	start := time.Now()
	final := &CompletionResponse{}
	var content strings.Builder

	scanner := newServerSentEventScanner(body)
	for scanner.Scan() {
		data := scanner.Data()
		if data == "[DONE]" {
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			send(Failed(fmt.Errorf("%s: malformed stream chunk: %w", c.name, err)))
			return
		}
		if chunk.Error != nil {
			send(Failed(&ProviderError{Provider: c.name, Message: chunk.Error.Message}))
			return
		}

		for _, ev := range decodeChunk(&chunk, final) {
			if ev.Type == EventTextDelta {
				content.WriteString(ev.Text)
			}
			if !send(ev) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		send(Failed(fmt.Errorf("%s stream read: %w", c.name, err)))
		return
	}
	if ctx.Err() != nil {
		send(Failed(ctx.Err()))
		return
	}

	final.Content = content.String()
	final.Duration = time.Since(start)
	send(Done(final))
}

// decodeChunk converts one wire chunk into tagged stream events and folds
// metadata into final. This is the only place provider delta shapes are
// inspected.
func decodeChunk(chunk *openAIStreamChunk, final *CompletionResponse) []StreamEvent {
	var events []StreamEvent
	if chunk.Model != "" {
		final.Model = chunk.Model
	}
	if chunk.Usage != nil {
		final.Usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			events = append(events, TextDelta(choice.Delta.Content))
		}
		for _, tc := range choice.Delta.ToolCalls {
			events = append(events, ToolCallFragment(ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}))
		}
		if choice.FinishReason != "" {
			final.FinishReason = choice.FinishReason
		}
	}
	return events
}

func (c *OpenAIClient) buildRequestBody(req CompletionRequest, stream bool) openAIRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := openAIRequest{
		Model:       model,
		Stream:      stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if stream {
		body.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}

	if req.System != "" {
		sys := req.System
		body.Messages = append(body.Messages, openAIMessage{Role: RoleSystem, Content: &sys})
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOpenAIMessage(m))
	}

	for _, t := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type:     "function",
			Function: openAIFunctionDef{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}
	if len(body.Tools) > 0 && req.ToolChoice != nil {
		body.ToolChoice = encodeToolChoice(req.ToolChoice)
	}
	return body
}

func toOpenAIMessage(m Message) openAIMessage {
	out := openAIMessage{Role: m.Role, ToolCallID: m.ToolCallID}
	// Assistant tool-call turns carry a null content on the wire.
	if m.Content != "" || len(m.ToolCalls) == 0 {
		content := m.Content
		out.Content = &content
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openAIToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: openAIFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	return out
}

func encodeToolChoice(tc *ToolChoice) any {
	if tc.Mode == ToolChoiceFunction && tc.Function != "" {
		return map[string]any{
			"type":     "function",
			"function": map[string]string{"name": tc.Function},
		}
	}
	if tc.Mode == "" {
		return ToolChoiceAuto
	}
	return tc.Mode
}

// ErrNoChoices is returned when a provider answers without any choice.
var ErrNoChoices = errors.New("llm: response has no choices")

// Wire structures

type openAIRequest struct {
	Model         string               `json:"model"`
	Messages      []openAIMessage      `json:"messages"`
	Tools         []openAITool         `json:"tools,omitempty"`
	ToolChoice    any                  `json:"tool_choice,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openAIStreamOptions `json:"stream_options,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Temperature   *float64             `json:"temperature,omitempty"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIToolCall struct {
	Index    int                `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openAIFunctionCall `json:"function"`
}

type openAIFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
}

type openAIStreamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openAIUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

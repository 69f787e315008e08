package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/memory"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/stream"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/soyeahso/shopagent/internal/tools/builtin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token-123"

type replyFunc func(req llm.CompletionRequest) []llm.StreamEvent

// echoReply answers every request with the last user message.
func echoReply(req llm.CompletionRequest) []llm.StreamEvent {
	last := req.Messages[len(req.Messages)-1].Content
	var evs []llm.StreamEvent
	for ev := range llm.TextStream("You said: " + last) {
		evs = append(evs, ev)
	}
	return evs
}

type stack struct {
	srv    *Server
	ts     *httptest.Server
	store  *kv.Memory
	memory *memory.Manager
	rag    *rag.Engine
	tools  *tools.Registry
}

type stackOption func(*stackConfig)

type stackConfig struct {
	reply   replyFunc
	noAgent bool
	noRAG   bool
}

func withReply(fn replyFunc) stackOption { return func(c *stackConfig) { c.reply = fn } }
func withoutAgent() stackOption         { return func(c *stackConfig) { c.noAgent = true } }
func withoutRAG() stackOption           { return func(c *stackConfig) { c.noRAG = true } }

func newStack(t *testing.T, opts ...stackOption) *stack {
	t.Helper()
	sc := stackConfig{reply: echoReply}
	for _, o := range opts {
		o(&sc)
	}

	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: "token", Token: testToken}
	log := testLog()

	st := &stack{store: kv.NewMemory(), tools: tools.NewRegistry(log)}
	hm := hooks.NewManager(log)
	client := &llm.MockClient{
		ProviderName: "mock",
		StreamFunc: func(_ context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.StreamOf(sc.reply(req)...), nil
		},
		EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
			lower := strings.ToLower(text)
			return []float32{
				float32(strings.Count(lower, "ship")),
				float32(strings.Count(lower, "return")) + 0.01,
			}, nil
		},
	}
	st.memory = memory.New(st.store, client, hm, memory.Options{}, log)

	srvOpts := []ServerOption{WithMemory(st.memory), WithTools(st.tools), WithHooks(hm)}
	plugin := &builtin.Plugin{}
	if !sc.noRAG {
		engine, err := rag.New(st.store, client, hm, rag.Options{ChunkSize: 200, ChunkOverlap: 20, TopK: 3}, log)
		require.NoError(t, err)
		st.rag = engine
		plugin.Searcher = engine
		srvOpts = append(srvOpts, WithRAG(engine))
	}
	for _, meta := range plugin.Tools() {
		require.NoError(t, st.tools.Register(meta))
	}

	if !sc.noAgent {
		deps := agent.Deps{
			Client: client,
			Store:  st.store,
			Memory: st.memory,
			Tools:  st.tools,
			Gate:   agent.NewGate(st.store, st.tools, true, time.Minute, log),
			Hooks:  hm,
		}
		if st.rag != nil {
			deps.Retriever = st.rag
		}
		runner := agent.NewRunner(agent.Options{AgentName: "Tester", MaxIterations: 3, TurnLock: true}, deps, log)
		srvOpts = append(srvOpts, WithRunner(runner))
	}

	st.srv = New(cfg, log, srvOpts...)
	st.ts = httptest.NewServer(st.srv.Handler())
	t.Cleanup(st.ts.Close)
	return st
}

func (st *stack) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, st.ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// readSSE collects event payloads until the [DONE] sentinel.
func readSSE(t *testing.T, resp *http.Response) ([]stream.Event, bool) {
	t.Helper()
	var events []stream.Event
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return events, true
		}
		var ev stream.Event
		require.NoError(t, json.Unmarshal([]byte(data), &ev))
		events = append(events, ev)
	}
	return events, false
}

func TestHealthEndpoint(t *testing.T) {
	st := newStack(t)

	resp, err := http.Get(st.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status.
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	st := newStack(t)

	resp, err := http.Get(st.ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIRequiresBearer(t *testing.T) {
	st := newStack(t)

	resp, err := http.Get(st.ts.URL + "/api/tools")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}

func TestChatStreamsSSE(t *testing.T) {
	st := newStack(t)

	resp := st.do(t, "POST", "/api/agent/chat", map[string]string{"message": "hello there"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events, done := readSSE(t, resp)
	require.True(t, done, "stream must end with [DONE]")
	require.NotEmpty(t, events)

	first, last := events[0], events[len(events)-1]
	assert.Equal(t, stream.RunStarted, first.Type)
	assert.NotEmpty(t, first.ConversationID, "a missing conversation id is generated")
	assert.Equal(t, stream.RunFinished, last.Type)

	var text strings.Builder
	for _, ev := range events {
		assert.Equal(t, first.RunID, ev.RunID)
		assert.Equal(t, first.ConversationID, ev.ConversationID)
		if ev.Type == stream.TextMessageContent {
			text.WriteString(ev.Delta)
		}
	}
	assert.Equal(t, "You said: hello there", text.String())

	// The turn is visible through the conversation routes.
	convID := first.ConversationID
	list := decode[struct {
		Conversations []memory.Conversation `json:"conversations"`
	}](t, st.do(t, "GET", "/api/conversations", nil))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, convID, list.Conversations[0].ID)

	msgs := decode[struct {
		Messages []domain.Message `json:"messages"`
	}](t, st.do(t, "GET", "/api/conversations/"+convID+"/messages", nil))
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, domain.RoleUser, msgs.Messages[0].Role)
	assert.Equal(t, "hello there", msgs.Messages[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs.Messages[1].Role)

	summary := decode[map[string]any](t, st.do(t, "GET", "/api/conversations/"+convID+"/summary", nil))
	assert.Equal(t, "", summary["summary"])
	assert.Equal(t, []any{}, summary["history"])

	del := decode[map[string]any](t, st.do(t, "DELETE", "/api/conversations/"+convID, nil))
	assert.Greater(t, del["deleted"], float64(0))

	msgs = decode[struct {
		Messages []domain.Message `json:"messages"`
	}](t, st.do(t, "GET", "/api/conversations/"+convID+"/messages", nil))
	assert.Empty(t, msgs.Messages)
}

func TestChatKeepsConversationID(t *testing.T) {
	st := newStack(t)

	resp := st.do(t, "POST", "/api/agent/chat", map[string]string{"conversationId": "conv-42", "message": "hi"})
	events, done := readSSE(t, resp)
	require.True(t, done)
	require.NotEmpty(t, events)
	assert.Equal(t, "conv-42", events[0].ConversationID)
}

func TestChatEmptyMessageStreamsError(t *testing.T) {
	st := newStack(t)

	resp := st.do(t, "POST", "/api/agent/chat", map[string]string{"message": "   "})
	events, done := readSSE(t, resp)
	require.True(t, done)

	var types []stream.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Contains(t, types, stream.RunError)
	assert.NotContains(t, types, stream.RunFinished)
}

func TestChatBadRequests(t *testing.T) {
	st := newStack(t)

	req, err := http.NewRequest("POST", st.ts.URL+"/api/agent/chat", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	noAgent := newStack(t, withoutAgent())
	resp = noAgent.do(t, "POST", "/api/agent/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestToolRoutes(t *testing.T) {
	calls := 0
	st := newStack(t, withReply(func(req llm.CompletionRequest) []llm.StreamEvent {
		calls++
		if calls == 1 {
			return []llm.StreamEvent{
				llm.ToolCallFragment(llm.ToolCallDelta{Index: 0, ID: "call_1", Name: builtin.ToolCalculate, Arguments: `{"expression":"6*7"}`}),
				llm.Done(&llm.CompletionResponse{FinishReason: "tool_calls"}),
			}
		}
		return echoReply(req)
	}))

	listed := decode[struct {
		Tools []tools.Info `json:"tools"`
	}](t, st.do(t, "GET", "/api/tools", nil))
	var names []string
	for _, info := range listed.Tools {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, builtin.ToolCalculate)
	assert.Contains(t, names, builtin.ToolSearchKnowledge)

	events, done := readSSE(t, st.do(t, "POST", "/api/agent/chat", map[string]string{"message": "what is 6*7?"}))
	require.True(t, done)
	var result *stream.Event
	for i := range events {
		if events[i].Type == stream.ToolCallResult {
			result = &events[i]
		}
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Content, "42")

	stats := decode[struct {
		Tools []toolStat `json:"tools"`
	}](t, st.do(t, "GET", "/api/tools/stats", nil))
	require.Len(t, stats.Tools, 1)
	assert.Equal(t, toolStat{Name: builtin.ToolCalculate, Calls: 1}, stats.Tools[0])
}

func TestRAGRoutes(t *testing.T) {
	st := newStack(t)

	up := st.do(t, "POST", "/api/rag/documents", domain.Document{SourceID: "faq-returns", Title: "Returns", Content: "Returns are accepted within 30 days."})
	require.Equal(t, http.StatusOK, up.StatusCode)
	upserted := decode[rag.UpsertResult](t, up)
	assert.Equal(t, 1, upserted.Count)

	st.do(t, "POST", "/api/rag/documents", domain.Document{SourceID: "faq-shipping", Content: "We ship worldwide."})

	sources := decode[struct {
		Sources []domain.SourceInfo `json:"sources"`
	}](t, st.do(t, "GET", "/api/rag/sources", nil))
	assert.Len(t, sources.Sources, 2)

	found := decode[struct {
		Results []rag.Result `json:"results"`
	}](t, st.do(t, "POST", "/api/rag/search", map[string]any{"query": "return policy", "topK": 1}))
	require.Len(t, found.Results, 1)
	assert.Equal(t, "faq-returns", found.Results[0].SourceID)

	removed := decode[map[string]any](t, st.do(t, "DELETE", "/api/rag/sources/faq-returns", nil))
	assert.Equal(t, float64(1), removed["removed"])

	sources = decode[struct {
		Sources []domain.SourceInfo `json:"sources"`
	}](t, st.do(t, "GET", "/api/rag/sources", nil))
	require.Len(t, sources.Sources, 1)
	assert.Equal(t, "faq-shipping", sources.Sources[0].SourceID)

	bad := st.do(t, "POST", "/api/rag/documents", domain.Document{SourceID: "x"})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestRAGRoutesDisabled(t *testing.T) {
	st := newStack(t, withoutRAG())

	assert.Equal(t, http.StatusServiceUnavailable, st.do(t, "GET", "/api/rag/sources", nil).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, st.do(t, "DELETE", "/api/rag/sources/x", nil).StatusCode)
	assert.Equal(t, http.StatusServiceUnavailable, st.do(t, "POST", "/api/rag/search", map[string]string{"query": "x"}).StatusCode)
}

// --- WebSocket ---

func dialWS(t *testing.T, st *stack) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(st.ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	challenge := readFrame(t, conn)
	require.Equal(t, FrameTypeEvent, challenge.Type)
	require.Equal(t, EventConnectChallenge, challenge.Event)
	return conn
}

func sendConnect(t *testing.T, conn *websocket.Conn, params ConnectParams) Frame {
	t.Helper()
	req, err := NewRequest("connect-1", "connect", params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	return readFrame(t, conn)
}

func authedWS(t *testing.T, st *stack) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, st)
	hello := sendConnect(t, conn, ConnectParams{
		MinProtocol: 1, MaxProtocol: 1,
		Client: ClientInfo{ID: "test-client", Version: "1.0.0"},
		Auth:   &ConnectAuth{Token: testToken},
	})
	require.NotNil(t, hello.OK)
	require.True(t, *hello.OK, "handshake should succeed")
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id, method string, params any) Frame {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	for {
		f := readFrame(t, conn)
		if f.Type == FrameTypeResponse && f.ID == id {
			return f
		}
	}
}

func TestWebSocketHandshake(t *testing.T) {
	st := newStack(t)
	conn := dialWS(t, st)

	resp := sendConnect(t, conn, ConnectParams{
		MinProtocol: 1, MaxProtocol: 1,
		Client: ClientInfo{ID: "test-client", Version: "1.0.0", Platform: "linux"},
		Auth:   &ConnectAuth{Token: testToken},
	})
	assert.Equal(t, "connect-1", resp.ID)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var hello HelloOK
	require.NoError(t, json.Unmarshal(resp.Payload, &hello))
	assert.Equal(t, ProtocolVersion, hello.Protocol)
	assert.NotEmpty(t, hello.Server.ConnID)
	assert.Equal(t, []string{"chat.send", "conversation.history", "health", "rag.search", "tools.list"}, hello.Features.Methods)
	assert.Contains(t, hello.Features.Events, EventAgent)
	assert.Equal(t, maxPayload, hello.Policy.MaxPayload)
}

func TestWebSocketHandshakeRejected(t *testing.T) {
	tests := []struct {
		name   string
		params ConnectParams
		code   string
	}{
		{"wrong token", ConnectParams{MinProtocol: 1, MaxProtocol: 1, Auth: &ConnectAuth{Token: "wrong"}}, "unauthorized"},
		{"no credentials", ConnectParams{MinProtocol: 1, MaxProtocol: 1}, "unauthorized"},
		{"future protocol", ConnectParams{MinProtocol: 2, MaxProtocol: 3, Auth: &ConnectAuth{Token: testToken}}, "protocol_mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newStack(t)
			resp := sendConnect(t, dialWS(t, st), tt.params)
			require.NotNil(t, resp.OK)
			assert.False(t, *resp.OK)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestWebSocketHandshakeExpectsConnect(t *testing.T) {
	st := newStack(t)
	conn := dialWS(t, st)

	req, err := NewRequest("r1", "health", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	resp := readFrame(t, conn)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "protocol_error", resp.Error.Code)
}

func TestWebSocketRPCHealth(t *testing.T) {
	st := newStack(t)
	resp := call(t, authedWS(t, st), "h1", "health", nil)
	require.NotNil(t, resp.OK)
	assert.True(t, *resp.OK)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(resp.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
	assert.Equal(t, st.tools.Len(), health.Tools)
	assert.True(t, health.RAG)
}

func TestWebSocketRPCUnknownMethod(t *testing.T) {
	st := newStack(t)
	resp := call(t, authedWS(t, st), "u1", "config.set", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "method_not_found", resp.Error.Code)
}

func TestWebSocketToolsList(t *testing.T) {
	st := newStack(t)
	resp := call(t, authedWS(t, st), "t1", "tools.list", nil)

	var payload struct {
		Tools []tools.Info `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Len(t, payload.Tools, st.tools.Len())
}

func TestChatSendRPC(t *testing.T) {
	st := newStack(t)
	conn := authedWS(t, st)

	req, err := NewRequest("chat-1", "chat.send", agent.Turn{ConversationID: "ws-conv", Message: "Hello bot!"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var events []stream.Event
	var resp Frame
	for {
		f := readFrame(t, conn)
		if f.Type == FrameTypeResponse {
			resp = f
			break
		}
		if f.Event != EventAgent {
			continue
		}
		var p agentEventPayload
		require.NoError(t, json.Unmarshal(f.Payload, &p))
		assert.Equal(t, "chat-1", p.RequestID)
		events = append(events, p.Event)
	}

	require.NotEmpty(t, events)
	assert.Equal(t, stream.RunStarted, events[0].Type)
	assert.Equal(t, stream.RunFinished, events[len(events)-1].Type)

	require.NotNil(t, resp.OK)
	require.True(t, *resp.OK)
	var result map[string]any
	require.NoError(t, json.Unmarshal(resp.Payload, &result))
	assert.Equal(t, "ws-conv", result["conversationId"])
	assert.Equal(t, "You said: Hello bot!", result["text"])

	history := call(t, conn, "hist-1", "conversation.history", historyParams{ConversationID: "ws-conv"})
	var h struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(history.Payload, &h))
	assert.Len(t, h.Messages, 2)
}

func TestChatSendRejects(t *testing.T) {
	st := newStack(t)
	conn := authedWS(t, st)

	resp := call(t, conn, "c1", "chat.send", agent.Turn{Message: ""})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)

	resp = call(t, conn, "c2", "conversation.history", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)

	noAgent := newStack(t, withoutAgent())
	resp = call(t, authedWS(t, noAgent), "c3", "chat.send", agent.Turn{Message: "hi"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "unavailable", resp.Error.Code)
}

func TestWebSocketRAGSearch(t *testing.T) {
	st := newStack(t)
	_, err := st.rag.Upsert(context.Background(), domain.Document{SourceID: "faq-shipping", Content: "We ship worldwide."})
	require.NoError(t, err)

	conn := authedWS(t, st)
	resp := call(t, conn, "s1", "rag.search", rag.Query{Text: "do you ship abroad?"})
	var payload struct {
		Results []rag.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	require.NotEmpty(t, payload.Results)
	assert.Equal(t, "faq-shipping", payload.Results[0].SourceID)

	resp = call(t, conn, "s2", "rag.search", rag.Query{})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "invalid_params", resp.Error.Code)
}

func TestServerStart(t *testing.T) {
	cfg := config.Defaults()
	cfg.Gateway.Port = 0
	cfg.Gateway.Auth = config.GatewayAuth{Mode: "token", Token: testToken}

	hm := hooks.NewManager(testLog())
	var started, stopped atomic.Bool
	hm.On(hooks.EventGatewayStart, "test", func(context.Context, hooks.Payload) error {
		started.Store(true)
		return nil
	})
	hm.On(hooks.EventGatewayStop, "test", func(context.Context, hooks.Payload) error {
		stopped.Store(true)
		return nil
	})
	srv := New(cfg, testLog(), WithHooks(hm))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.True(t, started.Load())
	assert.True(t, stopped.Load())
}

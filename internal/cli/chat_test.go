package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/memory"
	"github.com/soyeahso/shopagent/internal/stream"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRunner(t *testing.T, reply string) *agent.Runner {
	t.Helper()
	l := logging.New(nil, "silent")
	store := kv.NewMemory()
	hm := hooks.NewManager(l)
	reg := tools.NewRegistry(l)
	client := &llm.MockClient{
		ProviderName: "mock",
		StreamFunc: func(context.Context, llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			return llm.TextStream(reply), nil
		},
	}
	deps := agent.Deps{
		Client: client,
		Store:  store,
		Memory: memory.New(store, client, hm, memory.Options{}, l),
		Tools:  reg,
		Gate:   agent.NewGate(store, reg, true, 0, l),
		Hooks:  hm,
	}
	return agent.NewRunner(agent.Options{AgentName: "Tester", MaxIterations: 2, TurnLock: true}, deps, l)
}

func TestChatSessionSend(t *testing.T) {
	var out bytes.Buffer
	c := &chatSession{runner: testRunner(t, "Hello there, shopper."), out: &out}

	require.NoError(t, c.send(context.Background(), "hi"))
	assert.Equal(t, "Hello there, shopper.\n", out.String())
	assert.NotEmpty(t, c.conversationID)

	first := c.conversationID
	out.Reset()
	require.NoError(t, c.send(context.Background(), "again"))
	assert.Equal(t, first, c.conversationID)
}

func TestChatSessionPrint(t *testing.T) {
	tests := []struct {
		name      string
		showTools bool
		events    []stream.Event
		want      string
	}{
		{
			name: "text only",
			events: []stream.Event{
				{Type: stream.RunStarted},
				{Type: stream.TextMessageContent, Delta: "Hi "},
				{Type: stream.TextMessageContent, Delta: "there"},
				{Type: stream.ToolCallStart, ToolCallName: "calculate"},
				{Type: stream.RunFinished},
			},
			want: "Hi there",
		},
		{
			name:      "tools shown",
			showTools: true,
			events: []stream.Event{
				{Type: stream.ToolCallStart, ToolCallName: "calculate"},
				{Type: stream.ToolCallArgs, Delta: `{"expression":"6*7"}`},
				{Type: stream.ToolCallResult, Content: `{"result":42}`},
				{Type: stream.TextMessageContent, Delta: "42"},
			},
			want: "\n[tool calculate] {\"expression\":\"6*7\"}\n[result] {\"result\":42}\n42",
		},
		{
			name:   "error",
			events: []stream.Event{{Type: stream.RunError, Message: "boom"}},
			want:   "\n[error] boom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := &chatSession{out: &out, showTools: tt.showTools}
			for _, ev := range tt.events {
				require.NoError(t, c.print(ev))
			}
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestParseMetadata(t *testing.T) {
	got, err := parseMetadata([]string{"lang=en", " tier = gold", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"lang": "en", "tier": " gold", "empty": ""}, got)

	got, err = parseMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseMetadata([]string{"novalue"})
	assert.ErrorContains(t, err, "want key=value")

	_, err = parseMetadata([]string{"=x"})
	assert.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 10))
	assert.Equal(t, "abc…", oneLine("abcdef", 3))
	assert.Equal(t, "héllo", oneLine("héllo", 5))
}

func TestArgSummary(t *testing.T) {
	assert.Equal(t, "path [recursive]", argSummary([]string{"path"}, []string{"recursive"}))
	assert.Equal(t, "", argSummary(nil, nil))
}

func TestToolsListCmd(t *testing.T) {
	testHome(t, memoryConfig)

	out, err := execute(t, "tools", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "calculate")
	assert.Regexp(t, `delete_file\s+files\s+yes\s+path`, out)
	assert.NotContains(t, out, "search_knowledge")

	out, err = execute(t, "tools", "list", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "current_time"`)
}

func TestRAGCmdDisabled(t *testing.T) {
	testHome(t, memoryConfig)
	_, err := execute(t, "rag", "sources")
	assert.ErrorContains(t, err, "knowledge base is disabled")
}

func TestRAGSourcesEmpty(t *testing.T) {
	testHome(t, "store:\n  driver: memory\nlogging:\n  level: silent\n")
	out, err := execute(t, "rag", "sources")
	require.NoError(t, err)
	assert.Equal(t, "no sources indexed\n", out)
}

func TestRAGClearCache(t *testing.T) {
	testHome(t, "store:\n  driver: memory\nlogging:\n  level: silent\n")
	out, err := execute(t, "rag", "clear-cache")
	require.NoError(t, err)
	assert.Equal(t, "cleared 0 cached embedding(s)\n", out)

	testHome(t, memoryConfig)
	_, err = execute(t, "rag", "clear-cache")
	assert.ErrorContains(t, err, "knowledge base is disabled")
}

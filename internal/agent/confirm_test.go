package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gateFixture struct {
	store *kv.Memory
	reg   *tools.Registry
	gate  *Gate
	runs  map[string]int
}

func newGateFixture(t *testing.T, enabled bool) *gateFixture {
	t.Helper()
	f := &gateFixture{store: kv.NewMemory(), reg: tools.NewRegistry(silentLog()), runs: map[string]int{}}
	f.gate = NewGate(f.store, f.reg, enabled, time.Minute, silentLog())
	for _, name := range []string{"wipe", "purge"} {
		require.NoError(t, f.reg.Register(tools.Metadata{
			Name:                 name,
			Description:          "dangerous",
			RequiresConfirmation: true,
			Schema:               tools.Schema{{Name: "target", Kind: tools.KindString}},
			Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
				f.runs[name]++
				return tools.OK(map[string]any{"target": args.String("target", "")}), nil
			},
		}))
	}
	require.NoError(t, f.reg.Register(tools.Metadata{
		Name:        "echo",
		Description: "safe",
		Execute: func(_ context.Context, args tools.Args) (tools.Result, error) {
			f.runs["echo"]++
			return tools.OK(args), nil
		},
	}))
	return f
}

func TestGateRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown tool", func(t *testing.T) {
		f := newGateFixture(t, true)
		gr, err := f.gate.Request(ctx, "c1", "nope", nil)
		require.NoError(t, err)
		assert.False(t, gr.ConfirmRequired)
		assert.Nil(t, gr.Pending)
		assert.Equal(t, tools.Result{Success: false, Message: "unknown tool"}, gr.Result)
	})

	t.Run("safe tool runs", func(t *testing.T) {
		f := newGateFixture(t, true)
		gr, err := f.gate.Request(ctx, "c1", "echo", tools.Args{"a": "b"})
		require.NoError(t, err)
		assert.False(t, gr.ConfirmRequired)
		assert.True(t, gr.Result.Success)
		assert.Equal(t, 1, f.runs["echo"])
	})

	t.Run("gated tool is stored", func(t *testing.T) {
		f := newGateFixture(t, true)
		gr, err := f.gate.Request(ctx, "c1", "wipe", tools.Args{"target": "x"})
		require.NoError(t, err)
		require.True(t, gr.ConfirmRequired)
		assert.Equal(t, "wipe", gr.Pending.ToolName)
		assert.Equal(t, "c1", gr.Pending.ConversationID)
		assert.NotEmpty(t, gr.Pending.ID)
		assert.Zero(t, f.runs["wipe"])

		raw, err := f.store.Get(ctx, PendingKey("c1"))
		require.NoError(t, err)
		var stored domain.PendingToolCall
		require.NoError(t, json.Unmarshal([]byte(raw), &stored))
		assert.Equal(t, gr.Pending.ID, stored.ID)
		assert.Equal(t, "x", stored.Args["target"])
	})

	t.Run("confirmation disabled", func(t *testing.T) {
		f := newGateFixture(t, false)
		gr, err := f.gate.Request(ctx, "c1", "wipe", tools.Args{"target": "x"})
		require.NoError(t, err)
		assert.False(t, gr.ConfirmRequired)
		assert.True(t, gr.Result.Success)
		assert.Equal(t, 1, f.runs["wipe"])
	})
}

func TestGateLastRequestWins(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, true)

	_, err := f.gate.Request(ctx, "c1", "wipe", tools.Args{"target": "a"})
	require.NoError(t, err)
	second, err := f.gate.Request(ctx, "c1", "purge", tools.Args{"target": "b"})
	require.NoError(t, err)

	p, err := f.gate.Pending(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, second.Pending.ID, p.ID)
	assert.Equal(t, "purge", p.ToolName)

	other, err := f.gate.Pending(ctx, "c2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestGateExecutePendingKeepsNewerRequest(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, true)

	// A tool whose execution queues another confirmation, as a concurrent
	// turn would.
	require.NoError(t, f.reg.Register(tools.Metadata{
		Name:                 "chain",
		RequiresConfirmation: true,
		Execute: func(ctx context.Context, _ tools.Args) (tools.Result, error) {
			f.runs["chain"]++
			_, err := f.gate.Request(ctx, "c1", "purge", tools.Args{"target": "next"})
			return tools.OK(nil), err
		},
	}))

	_, err := f.gate.Request(ctx, "c1", "chain", nil)
	require.NoError(t, err)

	p, res, err := f.gate.ExecutePending(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "chain", p.ToolName)
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.runs["chain"])

	next, err := f.gate.Pending(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "purge", next.ToolName)

	p, _, err = f.gate.ExecutePending(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "purge", p.ToolName)
	assert.Equal(t, 1, f.runs["purge"])

	_, _, err = f.gate.ExecutePending(ctx, "c1")
	assert.ErrorIs(t, err, ErrNoPending)
	assert.Equal(t, 1, f.runs["purge"])
}

func TestGateClear(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, true)
	_, err := f.gate.Request(ctx, "c1", "wipe", nil)
	require.NoError(t, err)

	require.NoError(t, f.gate.Clear(ctx, "c1"))
	p, err := f.gate.Pending(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, p)
	require.NoError(t, f.gate.Clear(ctx, "c1"))
}

func TestGateDropsCorruptPending(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, true)
	require.NoError(t, f.store.Set(ctx, PendingKey("c1"), "{not json", time.Minute))

	p, err := f.gate.Pending(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, p)
	_, err = f.store.Get(ctx, PendingKey("c1"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func TestParseConfirmation(t *testing.T) {
	tests := []struct {
		in       string
		accepted bool
		ok       bool
	}{
		{"<mcp_call_confirm_resp>true</mcp_call_confirm_resp>", true, true},
		{"<mcp_call_confirm_resp>false</mcp_call_confirm_resp>", false, true},
		{"yes please <mcp_call_confirm_resp>\n true \n</mcp_call_confirm_resp>", true, true},
		{"<mcp_call_confirm_resp>maybe</mcp_call_confirm_resp>", false, false},
		{"<mcp_call_confirm_resp>TRUE</mcp_call_confirm_resp>", false, false},
		{"true", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			accepted, ok := ParseConfirmation(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.accepted, accepted)
		})
	}
}

func TestConfirmationRequestPayload(t *testing.T) {
	p := &domain.PendingToolCall{ID: "p1", ToolName: "wipe", Args: map[string]any{"target": "x"}}
	text := confirmationRequest(p)

	prefix := "I need your confirmation before running wipe.\n<mcp_call_confirm>"
	require.True(t, strings.HasPrefix(text, prefix))
	require.True(t, strings.HasSuffix(text, "</mcp_call_confirm>"))
	body := strings.TrimSuffix(strings.TrimPrefix(text, prefix), "</mcp_call_confirm>")
	assert.JSONEq(t, `{"id":"p1","tool":"wipe","arguments":{"target":"x"}}`, body)
}

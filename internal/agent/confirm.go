package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/memory"
	"github.com/soyeahso/shopagent/internal/tools"
)

// ErrNoPending is returned by ExecutePending when nothing awaits confirmation.
var ErrNoPending = errors.New("no pending tool call")

// DefaultPendingTTL is used when the gate is built without a TTL.
const DefaultPendingTTL = 15 * time.Minute

var confirmResponseRe = regexp.MustCompile(`<mcp_call_confirm_resp>\s*(true|false)\s*</mcp_call_confirm_resp>`)

// ParseConfirmation extracts an accept/reject marker from a user message.
func ParseConfirmation(text string) (accepted, ok bool) {
	m := confirmResponseRe.FindStringSubmatch(text)
	if m == nil {
		return false, false
	}
	return m[1] == "true", true
}

// PendingKey is the KV key holding a conversation's pending call.
func PendingKey(convID string) string { return memory.PendingKey(convID) }

// GateResult is the outcome of Gate.Request. Either ConfirmRequired is set
// and Pending describes the stored call, or Result holds the tool output.
type GateResult struct {
	ConfirmRequired bool
	Pending         *domain.PendingToolCall
	Result          tools.Result
}

// Gate holds confirmation-gated tool calls until the user approves them.
type Gate struct {
	store   kv.Store
	tools   *tools.Registry
	enabled bool
	ttl     time.Duration
	log     *logging.Logger
	now     func() time.Time
}

// NewGate creates a gate. When enabled is false every tool runs directly.
func NewGate(store kv.Store, reg *tools.Registry, enabled bool, ttl time.Duration, log *logging.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &Gate{
		store:   store,
		tools:   reg,
		enabled: enabled,
		ttl:     ttl,
		log:     log.Sub("confirm"),
		now:     time.Now,
	}
}

// Request runs the named tool, or stores it as the conversation's pending
// call when it requires confirmation. A newer request replaces an older
// pending call.
func (g *Gate) Request(ctx context.Context, convID, name string, args tools.Args) (GateResult, error) {
	if !g.tools.Has(name) {
		return GateResult{Result: tools.Fail("unknown tool")}, nil
	}

	if g.enabled && g.tools.RequiresConfirmation(name) {
		if args == nil {
			args = tools.Args{}
		}
		p := &domain.PendingToolCall{
			ID:             uuid.NewString(),
			ConversationID: convID,
			ToolName:       name,
			Args:           args,
			CreatedAt:      g.now().UTC(),
		}
		data, err := json.Marshal(p)
		if err != nil {
			return GateResult{}, fmt.Errorf("encode pending call: %w", err)
		}
		if err := g.store.Set(ctx, PendingKey(convID), string(data), g.ttl); err != nil {
			return GateResult{}, fmt.Errorf("store pending call: %w", err)
		}
		g.log.Info().Str("conversationId", convID).Str("tool", name).Str("pendingId", p.ID).Msg("tool call awaiting confirmation")
		return GateResult{ConfirmRequired: true, Pending: p}, nil
	}

	return GateResult{Result: g.execute(ctx, name, args)}, nil
}

func (g *Gate) execute(ctx context.Context, name string, args tools.Args) tools.Result {
	res, err := g.tools.Execute(ctx, name, args)
	if err != nil {
		return tools.Fail("unknown tool")
	}
	return res
}

// Pending returns the conversation's pending call, or nil when there is none.
func (g *Gate) Pending(ctx context.Context, convID string) (*domain.PendingToolCall, error) {
	p, _, err := g.load(ctx, convID)
	return p, err
}

func (g *Gate) load(ctx context.Context, convID string) (*domain.PendingToolCall, string, error) {
	raw, err := g.store.Get(ctx, PendingKey(convID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load pending call: %w", err)
	}
	var p domain.PendingToolCall
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		g.log.Warn().Err(err).Str("conversationId", convID).Msg("dropping undecodable pending call")
		_, _ = g.store.CompareAndDelete(ctx, PendingKey(convID), raw)
		return nil, "", nil
	}
	return &p, raw, nil
}

// Clear removes the conversation's pending call.
func (g *Gate) Clear(ctx context.Context, convID string) error {
	if _, err := g.store.Del(ctx, PendingKey(convID)); err != nil {
		return fmt.Errorf("clear pending call: %w", err)
	}
	return nil
}

// ExecutePending runs the pending call and then clears it. The clear only
// succeeds if the stored call is still the one that was executed, so a call
// requested in the meantime stays pending.
func (g *Gate) ExecutePending(ctx context.Context, convID string) (*domain.PendingToolCall, tools.Result, error) {
	p, raw, err := g.load(ctx, convID)
	if err != nil {
		return nil, tools.Result{}, err
	}
	if p == nil {
		return nil, tools.Result{}, ErrNoPending
	}

	res := g.execute(ctx, p.ToolName, tools.Args(p.Args))

	cleared, err := g.store.CompareAndDelete(ctx, PendingKey(convID), raw)
	if err != nil {
		return p, res, fmt.Errorf("clear pending call: %w", err)
	}
	if !cleared {
		g.log.Debug().Str("conversationId", convID).Msg("pending call replaced during execution")
	}
	g.log.Info().Str("conversationId", convID).Str("tool", p.ToolName).Bool("success", res.Success).Msg("confirmed tool call executed")
	return p, res, nil
}

// confirmationRequest renders the message asking the user to approve p.
func confirmationRequest(p *domain.PendingToolCall) string {
	payload, _ := json.Marshal(struct {
		ID        string         `json:"id"`
		Tool      string         `json:"tool"`
		Arguments map[string]any `json:"arguments"`
	}{p.ID, p.ToolName, p.Args})
	return fmt.Sprintf("I need your confirmation before running %s.\n<mcp_call_confirm>%s</mcp_call_confirm>", p.ToolName, payload)
}

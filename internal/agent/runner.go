// Package agent runs the tool-calling orchestration loop: it builds the
// conversation context, streams model rounds, executes or gates tool calls
// and persists the outcome to memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/memory"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/stream"
	"github.com/soyeahso/shopagent/internal/tools"
)

// DefaultMaxIterations limits how many completion rounds one turn may use.
const DefaultMaxIterations = 5

var (
	// ErrBusy is returned when another turn holds the conversation lock.
	ErrBusy = errors.New("conversation is busy")
	// ErrEmptyMessage is returned for a turn without text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUpstream wraps failures reported by the model stream.
	ErrUpstream = errors.New("upstream model error")
)

// User-facing notices.
const (
	noticeNothingToConfirm = "There is no pending action to confirm."
	noticeCancelled        = "Okay, I cancelled `%s`."
	noticeMaxIterations    = "I reached the maximum number of tool steps (%d) for this request. Please simplify it or split it into smaller questions."
	noticeFailure          = "Sorry, something went wrong while answering. Please try again."
)

// Options configures the runner.
type Options struct {
	AgentName     string
	Persona       string
	Model         string
	MaxTokens     int
	Temperature   *float64
	MaxIterations int
	Heartbeat     time.Duration
	ToolIntent    *regexp.Regexp
	ForcedTool    string
	RAGEnabled    bool
	TurnLock      bool
	LockTTL       time.Duration
}

// OptionsFromConfig maps the config file to runner options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := Options{
		AgentName:     cfg.Agent.Name,
		Persona:       cfg.Agent.Persona,
		Model:         cfg.LLM.Model,
		MaxTokens:     cfg.LLM.MaxTokens,
		Temperature:   cfg.LLM.Temperature,
		MaxIterations: cfg.Agent.MaxIterations,
		Heartbeat:     cfg.Agent.Heartbeat(),
		ForcedTool:    cfg.Agent.ForcedTool,
		RAGEnabled:    cfg.RAG.RAGEnabled(),
		TurnLock:      cfg.Agent.TurnLockEnabled(),
	}
	if p := cfg.Agent.ToolIntentPattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return Options{}, fmt.Errorf("agent.toolIntentPattern: %w", err)
		}
		opts.ToolIntent = re
	}
	// A turn may use every round plus the final persist.
	opts.LockTTL = cfg.LLM.Timeout() * time.Duration(max(opts.MaxIterations, 1)+1)
	return opts, nil
}

// Retriever supplies knowledge excerpts for the system prompt.
type Retriever interface {
	Search(ctx context.Context, q rag.Query) ([]rag.Result, error)
	DefaultQuery(text string) rag.Query
}

// Deps are the collaborators of a Runner. Retriever and Hooks are optional.
type Deps struct {
	Client    llm.Client
	Store     kv.Store
	Memory    *memory.Manager
	Tools     *tools.Registry
	Gate      *Gate
	Retriever Retriever
	Hooks     *hooks.Manager
}

// Turn is one inbound user message.
type Turn struct {
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// TurnResult is the outcome of a turn.
type TurnResult struct {
	RunID          string                  `json:"runId"`
	ConversationID string                  `json:"conversationId"`
	Text           string                  `json:"text"`
	Iterations     int                     `json:"iterations"`
	ToolCalls      int                     `json:"toolCalls"`
	Pending        *domain.PendingToolCall `json:"pending,omitempty"`
	Summarized     bool                    `json:"summarized,omitempty"`
	Usage          llm.Usage               `json:"usage"`
	Duration       time.Duration           `json:"duration"`
}

// Runner is the agent orchestration loop.
type Runner struct {
	opts Options
	deps Deps
	log  *logging.Logger
	now  func() time.Time
}

// NewRunner creates an agent runner.
func NewRunner(opts Options, deps Deps, log *logging.Logger) *Runner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	return &Runner{
		opts: opts,
		deps: deps,
		log:  log.Sub("agent"),
		now:  time.Now,
	}
}

// Timeout bounds a whole turn. Transports use it when the caller gives
// no deadline of its own.
func (r *Runner) Timeout() time.Duration { return r.opts.LockTTL }

// LockKey is the KV key of a conversation's turn lock.
func LockKey(convID string) string { return "lock:conv:" + convID }

// Stream runs a turn on a client transport. It sends heartbeats while the
// turn runs and always closes the transport.
func (r *Runner) Stream(ctx context.Context, turn Turn, t stream.Transport) (*TurnResult, error) {
	defer t.Close()
	stop := stream.WithHeartbeat(ctx, t, r.opts.Heartbeat)
	defer stop()
	return r.Run(ctx, turn, t)
}

// Run processes one turn, writing its events to sink. RUN_STARTED is always
// the first event; the turn ends with RUN_FINISHED or RUN_ERROR.
func (r *Runner) Run(ctx context.Context, turn Turn, sink stream.Sink) (*TurnResult, error) {
	start := r.now()
	if turn.ConversationID == "" {
		turn.ConversationID = uuid.NewString()
	}
	res := &TurnResult{RunID: uuid.NewString(), ConversationID: turn.ConversationID}
	em := stream.NewEmitter(sink, res.RunID, res.ConversationID, uuid.NewString())
	log := r.log.With("conversationId", res.ConversationID).With("runId", res.RunID)

	em.Started()
	r.deps.Hooks.Emit(ctx, hooks.EventTurnStarted, map[string]any{
		"conversationId": res.ConversationID,
		"runId":          res.RunID,
		"message":        turn.Message,
	})

	err := r.locked(ctx, res.ConversationID, func() error {
		return r.run(ctx, turn, em, res)
	})
	res.Duration = r.now().Sub(start)

	if err != nil {
		msg := userMessage(ctx, err)
		log.Error().Err(err).Dur("duration", res.Duration).Msg("turn failed")
		em.Text(msg)
		em.Failed(msg)
	} else {
		em.Finished()
		log.Info().
			Int("iterations", res.Iterations).
			Int("toolCalls", res.ToolCalls).
			Int("inputTokens", res.Usage.InputTokens).
			Int("outputTokens", res.Usage.OutputTokens).
			Bool("pending", res.Pending != nil).
			Dur("duration", res.Duration).
			Msg("turn finished")
	}

	data := map[string]any{
		"conversationId": res.ConversationID,
		"runId":          res.RunID,
		"text":           res.Text,
		"toolCalls":      res.ToolCalls,
		"durationMs":     res.Duration.Milliseconds(),
	}
	if err != nil {
		data["error"] = err.Error()
	}
	r.deps.Hooks.Emit(context.WithoutCancel(ctx), hooks.EventTurnFinished, data)

	return res, err
}

func (r *Runner) locked(ctx context.Context, convID string, fn func() error) error {
	if !r.opts.TurnLock || r.deps.Store == nil {
		return fn()
	}
	lock, err := kv.Acquire(ctx, r.deps.Store, LockKey(convID), r.opts.LockTTL)
	if errors.Is(err, kv.ErrLocked) {
		return ErrBusy
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Str("conversationId", convID).Msg("releasing turn lock")
		}
	}()
	return fn()
}

func userMessage(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, ErrBusy):
		return ErrBusy.Error()
	case errors.Is(err, ErrEmptyMessage):
		return "Please enter a message."
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return noticeFailure
	}
}

func (r *Runner) run(ctx context.Context, turn Turn, em *stream.Emitter, res *TurnResult) error {
	text := strings.TrimSpace(turn.Message)
	if text == "" {
		return ErrEmptyMessage
	}
	convID := res.ConversationID

	if err := r.deps.Memory.IncrStat(ctx, convID, memory.StatTurns, 1); err != nil {
		return err
	}

	query := text
	if accepted, ok := ParseConfirmation(text); ok {
		done, err := r.confirm(ctx, convID, accepted, em, res)
		if err != nil || done {
			return err
		}
		query = ""
	} else if err := r.remember(ctx, convID, domain.Message{Role: domain.RoleUser, Content: text}, res); err != nil {
		return err
	}

	system, history, err := r.buildContext(ctx, convID, query)
	if err != nil {
		return err
	}
	return r.rounds(ctx, convID, query, system, history, em, res)
}

// confirm resolves a confirmation response. It reports true when the turn
// is complete, false when the accepted call ran and rounds should follow.
func (r *Runner) confirm(ctx context.Context, convID string, accepted bool, em *stream.Emitter, res *TurnResult) (bool, error) {
	pending, err := r.deps.Gate.Pending(ctx, convID)
	if err != nil {
		return false, err
	}
	if pending == nil {
		r.reply(em, res, noticeNothingToConfirm)
		return true, nil
	}

	if !accepted {
		if err := r.deps.Gate.Clear(ctx, convID); err != nil {
			return false, err
		}
		notice := fmt.Sprintf(noticeCancelled, pending.ToolName)
		r.reply(em, res, notice)
		r.log.Info().Str("conversationId", convID).Str("tool", pending.ToolName).Msg("pending tool call rejected")
		return true, r.remember(ctx, convID, domain.Message{Role: domain.RoleAssistant, Content: notice}, res)
	}

	p, result, err := r.deps.Gate.ExecutePending(ctx, convID)
	if errors.Is(err, ErrNoPending) {
		r.reply(em, res, noticeNothingToConfirm)
		return true, nil
	}
	if p == nil {
		return false, err
	}
	content := result.JSON()
	em.ToolStart(p.ID, p.ToolName)
	em.ToolResult(p.ID, p.ToolName, content)
	r.recordTool(ctx, convID, p.ToolName, result, res)
	if err != nil {
		return false, err
	}

	followUp := fmt.Sprintf("Tool %s executed, result: %s", p.ToolName, content)
	return false, r.remember(ctx, convID, domain.Message{Role: domain.RoleUser, Content: followUp}, res)
}

func (r *Runner) buildContext(ctx context.Context, convID, query string) (string, []llm.Message, error) {
	summary, err := r.deps.Memory.Summary(ctx, convID)
	if err != nil {
		return "", nil, err
	}
	msgs, err := r.deps.Memory.Messages(ctx, convID)
	if err != nil {
		return "", nil, err
	}

	var knowledge []rag.Result
	if r.opts.RAGEnabled && r.deps.Retriever != nil && query != "" {
		knowledge, err = r.deps.Retriever.Search(ctx, r.deps.Retriever.DefaultQuery(query))
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, err
			}
			r.log.Warn().Err(err).Str("conversationId", convID).Msg("knowledge search failed, continuing without it")
			knowledge = nil
		}
	}

	system := BuildSystemPrompt(PromptConfig{
		AgentName: r.opts.AgentName,
		Persona:   r.opts.Persona,
		Now:       r.now(),
		Tools:     r.deps.Tools.Describe(),
		Summary:   summary,
		Knowledge: knowledge,
	})
	return system, toLLMMessages(msgs), nil
}

func (r *Runner) rounds(ctx context.Context, convID, query, system string, working []llm.Message, em *stream.Emitter, res *TurnResult) error {
	specs := r.deps.Tools.ProviderSpecs()
	forced := r.forcedTool(query)

	for round := 0; round < r.opts.MaxIterations; round++ {
		res.Iterations = round + 1
		req := llm.CompletionRequest{
			Model:       r.opts.Model,
			System:      system,
			Messages:    working,
			Tools:       specs,
			MaxTokens:   r.opts.MaxTokens,
			Temperature: r.opts.Temperature,
		}
		if len(specs) > 0 {
			req.ToolChoice = &llm.ToolChoice{Mode: llm.ToolChoiceAuto}
			if round == 0 && forced != "" {
				req.ToolChoice = llm.ForceTool(forced)
			}
		}

		text, calls, err := r.streamRound(ctx, req, em, res)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			res.Text = text
			return r.remember(ctx, convID, domain.Message{Role: domain.RoleAssistant, Content: text}, res)
		}

		r.log.Debug().Str("conversationId", convID).Int("round", round+1).Int("toolCalls", len(calls)).Msg("executing tool calls")
		working = append(working, llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls})

		for _, call := range calls {
			args, err := tools.ParseArgs(call.Arguments)
			if err != nil {
				r.log.Warn().Err(err).Str("tool", call.Name).Str("toolCallId", call.ID).Msg("malformed tool arguments, using {}")
				args = tools.Args{}
			}

			gr, err := r.deps.Gate.Request(ctx, convID, call.Name, args)
			if err != nil {
				return err
			}
			if gr.ConfirmRequired {
				return r.requestConfirmation(ctx, convID, gr.Pending, em, res)
			}

			content := gr.Result.JSON()
			em.ToolResult(call.ID, call.Name, content)
			working = append(working, llm.Message{Role: llm.RoleTool, Content: content, ToolCallID: call.ID})
			r.recordTool(ctx, convID, call.Name, gr.Result, res)
		}
	}

	notice := fmt.Sprintf(noticeMaxIterations, r.opts.MaxIterations)
	r.reply(em, res, notice)
	r.log.Warn().Str("conversationId", convID).Int("maxIterations", r.opts.MaxIterations).Msg("tool round limit reached")
	return r.remember(ctx, convID, domain.Message{Role: domain.RoleAssistant, Content: notice}, res)
}

// forcedTool returns the tool to force on the first round, if the user
// message asks for one and it is registered.
func (r *Runner) forcedTool(query string) string {
	if r.opts.ToolIntent == nil || r.opts.ForcedTool == "" || query == "" {
		return ""
	}
	if !r.deps.Tools.Has(r.opts.ForcedTool) || !r.opts.ToolIntent.MatchString(query) {
		return ""
	}
	return r.opts.ForcedTool
}

// streamRound consumes one model stream, forwarding text and tool-call
// fragments as they arrive.
func (r *Runner) streamRound(ctx context.Context, req llm.CompletionRequest, em *stream.Emitter, res *TurnResult) (string, []llm.ToolCall, error) {
	events, err := r.deps.Client.Stream(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	var text strings.Builder
	acc := newAccumulator(em)
	for ev := range events {
		switch ev.Type {
		case llm.EventTextDelta:
			text.WriteString(ev.Text)
			em.Text(ev.Text)
		case llm.EventToolCallDelta:
			if ev.ToolCall != nil {
				acc.Add(*ev.ToolCall)
			}
		case llm.EventDone:
			if ev.Response == nil {
				continue
			}
			res.Usage.InputTokens += ev.Response.Usage.InputTokens
			res.Usage.OutputTokens += ev.Response.Usage.OutputTokens
			// Providers that only report complete calls in the final response.
			if acc.Len() == 0 {
				for i, tc := range ev.Response.ToolCalls {
					acc.Add(llm.ToolCallDelta{Index: i, ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
				}
			}
			if text.Len() == 0 && ev.Response.Content != "" {
				text.WriteString(ev.Response.Content)
				em.Text(ev.Response.Content)
			}
		case llm.EventError:
			return "", nil, fmt.Errorf("%w: %w", ErrUpstream, ev.Err)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return text.String(), acc.Calls(), nil
}

func (r *Runner) requestConfirmation(ctx context.Context, convID string, p *domain.PendingToolCall, em *stream.Emitter, res *TurnResult) error {
	notice := confirmationRequest(p)
	res.Pending = p
	r.reply(em, res, notice)
	if err := r.remember(ctx, convID, domain.Message{Role: domain.RoleAssistant, Content: notice}, res); err != nil {
		return err
	}
	r.deps.Hooks.Emit(ctx, hooks.EventConfirmationRequested, map[string]any{
		"conversationId": convID,
		"pendingId":      p.ID,
		"tool":           p.ToolName,
		"args":           p.Args,
	})
	return nil
}

func (r *Runner) recordTool(ctx context.Context, convID, name string, result tools.Result, res *TurnResult) {
	res.ToolCalls++
	if err := r.deps.Memory.RecordToolCall(ctx, convID, name); err != nil {
		r.log.Warn().Err(err).Str("tool", name).Msg("recording tool usage")
	}
	r.deps.Hooks.Emit(ctx, hooks.EventToolExecuted, map[string]any{
		"conversationId": convID,
		"tool":           name,
		"success":        result.Success,
	})
}

// reply streams a complete assistant notice.
func (r *Runner) reply(em *stream.Emitter, res *TurnResult, text string) {
	em.Text(text)
	res.Text = text
}

func (r *Runner) remember(ctx context.Context, convID string, msg domain.Message, res *TurnResult) error {
	summarized, err := r.deps.Memory.Append(ctx, convID, msg)
	if summarized {
		res.Summarized = true
	}
	return err
}

func toLLMMessages(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		lm := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		out = append(out, lm)
	}
	return out
}

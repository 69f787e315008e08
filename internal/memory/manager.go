// Package memory keeps per-conversation message logs in the KV store and
// compacts them into rolling summaries.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
)

// Options bounds the message log and controls summarization.
type Options struct {
	MaxMessages      int
	SummarizeEvery   int
	TokenThreshold   int
	KeepAfterSummary int
	SummaryHistory   int
	SummaryMaxChars  int
	TTL              time.Duration
}

// OptionsFromConfig maps the memory config section to Options.
func OptionsFromConfig(cfg config.MemoryConfig) Options {
	return Options{
		MaxMessages:      cfg.MaxMessages,
		SummarizeEvery:   cfg.SummarizeEvery,
		TokenThreshold:   cfg.TokenThreshold,
		KeepAfterSummary: cfg.KeepAfterSummary,
		SummaryHistory:   cfg.SummaryHistory,
		SummaryMaxChars:  cfg.SummaryMaxChars,
		TTL:              cfg.TTL(),
	}
}

// Conversation is an entry of the recent-activity index.
type Conversation struct {
	ID         string    `json:"id"`
	LastActive time.Time `json:"lastActive"`
}

// Manager reads and writes conversation memory.
type Manager struct {
	store  kv.Store
	client llm.Client
	hooks  *hooks.Manager
	opts   Options
	log    *logging.Logger
	now    func() time.Time
}

// New creates a memory manager. client is used for summarization.
func New(store kv.Store, client llm.Client, hm *hooks.Manager, opts Options, log *logging.Logger) *Manager {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 40
	}
	if opts.KeepAfterSummary <= 0 || opts.KeepAfterSummary >= opts.MaxMessages {
		opts.KeepAfterSummary = min(5, opts.MaxMessages-1)
	}
	if opts.SummarizeEvery <= 0 {
		opts.SummarizeEvery = 12
	}
	if opts.TokenThreshold <= 0 {
		opts.TokenThreshold = 3000
	}
	if opts.SummaryHistory <= 0 {
		opts.SummaryHistory = 3
	}
	if opts.SummaryMaxChars <= 0 {
		opts.SummaryMaxChars = 200
	}
	return &Manager{
		store:  store,
		client: client,
		hooks:  hm,
		opts:   opts,
		log:    log.Sub("memory"),
		now:    time.Now,
	}
}

// Messages returns the active message log of a conversation.
func (m *Manager) Messages(ctx context.Context, convID string) ([]domain.Message, error) {
	raw, err := m.store.LRange(ctx, MessagesKey(convID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return m.decode(raw), nil
}

// Archive returns the messages trimmed out of the active log.
func (m *Manager) Archive(ctx context.Context, convID string) ([]domain.Message, error) {
	raw, err := m.store.LRange(ctx, ArchiveKey(convID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	return m.decode(raw), nil
}

func (m *Manager) decode(raw []string) []domain.Message {
	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var msg domain.Message
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			m.log.Warn().Err(err).Msg("skipping undecodable message")
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// Append stores msg, trims the log to MaxMessages and summarizes when the
// log has grown past both thresholds. It reports whether a summary was
// produced.
func (m *Manager) Append(ctx context.Context, convID string, msg domain.Message) (bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("encode message: %w", err)
	}

	n, err := m.store.RPush(ctx, MessagesKey(convID), string(data))
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	if n > m.opts.MaxMessages {
		if err := m.trimTo(ctx, convID, n, m.opts.MaxMessages); err != nil {
			return false, err
		}
	}

	if _, err := m.store.HIncrBy(ctx, StatsKey(convID), StatMessages, 1); err != nil {
		return false, fmt.Errorf("update stats: %w", err)
	}
	if err := m.touch(ctx, convID); err != nil {
		return false, err
	}

	msgs, err := m.Messages(ctx, convID)
	if err != nil {
		return false, err
	}
	if !m.ShouldSummarize(msgs) {
		return false, nil
	}
	if _, err := m.Summarize(ctx, convID, msgs); err != nil {
		return false, err
	}
	return true, nil
}

// trimTo moves the oldest entries of a log of length n into the archive
// so that keep entries remain.
func (m *Manager) trimTo(ctx context.Context, convID string, n, keep int) error {
	if n <= keep {
		return nil
	}
	keep = max(keep, 0)
	old, err := m.store.LRange(ctx, MessagesKey(convID), 0, n-keep-1)
	if err != nil {
		return fmt.Errorf("read trimmed messages: %w", err)
	}
	if len(old) > 0 {
		if _, err := m.store.RPush(ctx, ArchiveKey(convID), old...); err != nil {
			return fmt.Errorf("archive messages: %w", err)
		}
	}
	if keep == 0 {
		_, err = m.store.Del(ctx, MessagesKey(convID))
	} else {
		err = m.store.LTrim(ctx, MessagesKey(convID), -keep, -1)
	}
	if err != nil {
		return fmt.Errorf("trim messages: %w", err)
	}
	return nil
}

// touch bumps the activity index and refreshes every key's TTL.
func (m *Manager) touch(ctx context.Context, convID string) error {
	if err := m.store.ZAdd(ctx, KeyConversations, convID, float64(m.now().Unix())); err != nil {
		return fmt.Errorf("index conversation: %w", err)
	}
	if m.opts.TTL <= 0 {
		return nil
	}
	for _, key := range []string{MessagesKey(convID), ArchiveKey(convID), SummaryKey(convID), HistoryKey(convID), StatsKey(convID)} {
		if err := m.store.Expire(ctx, key, m.opts.TTL); err != nil {
			return fmt.Errorf("refresh ttl: %w", err)
		}
	}
	return nil
}

// ShouldSummarize reports whether msgs has reached both the message-count
// and the token thresholds.
func (m *Manager) ShouldSummarize(msgs []domain.Message) bool {
	return len(msgs) >= m.opts.SummarizeEvery && EstimateTokens(msgs) > m.opts.TokenThreshold
}

// Summarize merges the previous summary with msgs into a new summary,
// pushes the previous one onto the bounded history and trims the log to
// KeepAfterSummary messages.
func (m *Manager) Summarize(ctx context.Context, convID string, msgs []domain.Message) (string, error) {
	prev, err := m.Current(ctx, convID)
	if err != nil {
		return "", err
	}

	resp, err := m.client.Complete(ctx, llm.CompletionRequest{
		System:   summaryInstruction(m.opts.SummaryMaxChars),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: summaryInput(prev, msgs)}},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	summary := truncateRunes(strings.TrimSpace(resp.Content), m.opts.SummaryMaxChars)
	if summary == "" {
		return "", errors.New("summarize: model returned an empty summary")
	}

	if prev != "" {
		if _, err := m.store.RPush(ctx, HistoryKey(convID), prev); err != nil {
			return "", fmt.Errorf("push summary history: %w", err)
		}
		if err := m.store.LTrim(ctx, HistoryKey(convID), -m.opts.SummaryHistory, -1); err != nil {
			return "", fmt.Errorf("trim summary history: %w", err)
		}
	}
	if err := m.store.Set(ctx, SummaryKey(convID), summary, m.opts.TTL); err != nil {
		return "", fmt.Errorf("store summary: %w", err)
	}

	n, err := m.store.LLen(ctx, MessagesKey(convID))
	if err != nil {
		return "", fmt.Errorf("count messages: %w", err)
	}
	if err := m.trimTo(ctx, convID, n, m.opts.KeepAfterSummary); err != nil {
		return "", err
	}
	if _, err := m.store.HIncrBy(ctx, StatsKey(convID), StatSummaries, 1); err != nil {
		return "", fmt.Errorf("update stats: %w", err)
	}
	if err := m.touch(ctx, convID); err != nil {
		return "", err
	}

	m.log.Info().Str("conversation", convID).Int("chars", len([]rune(summary))).Msg("conversation summarized")
	m.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventSummaryCreated, map[string]any{
		"conversationId": convID,
		"summary":        summary,
	})
	return summary, nil
}

// Current returns only the latest summary, or "" when there is none.
func (m *Manager) Current(ctx context.Context, convID string) (string, error) {
	s, err := m.store.Get(ctx, SummaryKey(convID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load summary: %w", err)
	}
	return s, nil
}

// Summary returns the conversation summary for the prompt. With earlier
// summaries on record they are listed oldest first, followed by the
// current one, each under a label.
func (m *Manager) Summary(ctx context.Context, convID string) (string, error) {
	cur, err := m.Current(ctx, convID)
	if err != nil {
		return "", err
	}
	history, err := m.History(ctx, convID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return cur, nil
	}

	parts := make([]string, 0, len(history)+1)
	for i, h := range history {
		parts = append(parts, fmt.Sprintf("[Earlier summary %d]\n%s", i+1, h))
	}
	parts = append(parts, "[Current summary]\n"+cur)
	return strings.Join(parts, "\n\n"), nil
}

// History returns previous summaries, oldest first.
func (m *Manager) History(ctx context.Context, convID string) ([]string, error) {
	h, err := m.store.LRange(ctx, HistoryKey(convID), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("load summary history: %w", err)
	}
	return h, nil
}

// IncrStat adds delta to a conversation counter.
func (m *Manager) IncrStat(ctx context.Context, convID, field string, delta int64) error {
	if _, err := m.store.HIncrBy(ctx, StatsKey(convID), field, delta); err != nil {
		return fmt.Errorf("update stats: %w", err)
	}
	return nil
}

// Stats returns the conversation counters.
func (m *Manager) Stats(ctx context.Context, convID string) (map[string]int64, error) {
	raw, err := m.store.HGetAll(ctx, StatsKey(convID))
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// RecordToolCall counts a tool execution for the conversation and in the
// global usage ranking.
func (m *Manager) RecordToolCall(ctx context.Context, convID, tool string) error {
	if err := m.IncrStat(ctx, convID, StatToolCalls, 1); err != nil {
		return err
	}
	if _, err := m.store.ZIncrBy(ctx, KeyToolStats, tool, 1); err != nil {
		return fmt.Errorf("update tool ranking: %w", err)
	}
	return nil
}

// ToolUsage returns the most used tools, highest count first.
func (m *Manager) ToolUsage(ctx context.Context, limit int) ([]kv.ZMember, error) {
	stop := -1
	if limit > 0 {
		stop = limit - 1
	}
	out, err := m.store.ZRevRange(ctx, KeyToolStats, 0, stop)
	if err != nil {
		return nil, fmt.Errorf("load tool ranking: %w", err)
	}
	return out, nil
}

// Conversations returns the most recently active conversations.
func (m *Manager) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	stop := -1
	if limit > 0 {
		stop = limit - 1
	}
	members, err := m.store.ZRevRange(ctx, KeyConversations, 0, stop)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	out := make([]Conversation, 0, len(members))
	for _, z := range members {
		out = append(out, Conversation{ID: z.Member, LastActive: time.Unix(int64(z.Score), 0).UTC()})
	}
	return out, nil
}

// Delete removes every key of a conversation and drops it from the
// activity index. It returns the number of keys deleted.
func (m *Manager) Delete(ctx context.Context, convID string) (int, error) {
	n, err := m.store.Del(ctx, ConversationKeys(convID)...)
	if err != nil {
		return 0, fmt.Errorf("delete conversation: %w", err)
	}
	if _, err := m.store.ZRem(ctx, KeyConversations, convID); err != nil {
		return n, fmt.Errorf("unindex conversation: %w", err)
	}
	return n, nil
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max]))
}

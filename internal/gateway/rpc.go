package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/rag"
)

func (s *Server) rpcHealth(rc *RequestContext) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Clients: s.clients.Count(),
		RAG:     s.rag != nil,
	}
	if s.tools != nil {
		resp.Tools = s.tools.Len()
	}
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	rc.Respond(resp)
}

// rpcChatSend runs a turn, streaming agent.event frames to the caller
// before the final response.
func (s *Server) rpcChatSend(rc *RequestContext) {
	if s.runner == nil {
		rc.RespondError("unavailable", "no LLM provider configured")
		return
	}
	var turn agent.Turn
	if err := rc.Params(&turn); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(turn.Message) == "" {
		rc.RespondError("invalid_params", "message is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.runner.Timeout())
	defer cancel()

	res, err := s.runner.Stream(ctx, turn, &agentTransport{client: rc.Client, requestID: rc.Frame.ID})
	if err != nil {
		rc.Client.RespondError(rc.Frame.ID, ErrorShape{
			Code:      "agent_error",
			Message:   err.Error(),
			Retryable: errorRetryable(err),
		})
		return
	}
	rc.Respond(map[string]any{
		"conversationId": res.ConversationID,
		"runId":          res.RunID,
		"text":           res.Text,
		"pending":        res.Pending,
		"iterations":     res.Iterations,
		"usage":          res.Usage,
		"durationMs":     res.Duration.Milliseconds(),
	})
}

func errorRetryable(err error) bool {
	return errors.Is(err, agent.ErrBusy) || errors.Is(err, agent.ErrUpstream)
}

func (s *Server) rpcToolsList(rc *RequestContext) {
	if s.tools == nil {
		rc.Respond(map[string]any{"tools": []any{}})
		return
	}
	rc.Respond(map[string]any{"tools": s.tools.Describe()})
}

func (s *Server) rpcRAGSearch(rc *RequestContext) {
	if s.rag == nil {
		rc.RespondError("unavailable", "knowledge base is disabled")
		return
	}
	var q rag.Query
	if err := rc.Params(&q); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		rc.RespondError("invalid_params", "query is required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	results, err := s.search(ctx, q)
	if err != nil {
		rc.RespondError("search_failed", err.Error())
		return
	}
	rc.Respond(map[string]any{"results": results})
}

type historyParams struct {
	ConversationID string `json:"conversationId"`
}

func (s *Server) rpcConversationHistory(rc *RequestContext) {
	if s.memory == nil {
		rc.RespondError("unavailable", "memory is not configured")
		return
	}
	var p historyParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.ConversationID == "" {
		rc.RespondError("invalid_params", "conversationId is required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msgs, err := s.memory.Messages(ctx, p.ConversationID)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	summary, err := s.memory.Summary(ctx, p.ConversationID)
	if err != nil {
		rc.RespondError("internal", err.Error())
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	rc.Respond(map[string]any{
		"conversationId": p.ConversationID,
		"messages":       msgs,
		"summary":        summary,
	})
}

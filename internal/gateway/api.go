package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/soyeahso/shopagent/internal/agent"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/stream"
)

const defaultListLimit = 50

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

// handleChat runs one agent turn and streams its events as SSE.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}
	var turn agent.Turn
	if err := decodeBody(w, r, &turn); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The stream outlives the server write timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.log.Debug().Err(err).Msg("cannot clear write deadline")
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.runner.Timeout())
	defer cancel()

	res, err := s.runner.Stream(ctx, turn, stream.NewSSE(w))
	if err != nil {
		s.log.Debug().Err(err).Msg("chat turn failed")
		return
	}
	s.log.Debug().
		Str("conversationId", res.ConversationID).
		Int("iterations", res.Iterations).
		Dur("duration", res.Duration).
		Msg("chat turn streamed")
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is not configured")
		return
	}
	convs, err := s.memory.Conversations(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, "list conversations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is not configured")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.memory.Messages(r.Context(), id)
	if err != nil {
		s.internalError(w, "load messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "messages": msgs})
}

func (s *Server) handleConversationSummary(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is not configured")
		return
	}
	id := r.PathValue("id")
	summary, err := s.memory.Summary(r.Context(), id)
	if err != nil {
		s.internalError(w, "load summary", err)
		return
	}
	history, err := s.memory.History(r.Context(), id)
	if err != nil {
		s.internalError(w, "load summary history", err)
		return
	}
	if history == nil {
		history = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "summary": summary, "history": history})
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is not configured")
		return
	}
	id := r.PathValue("id")
	n, err := s.memory.Delete(r.Context(), id)
	if err != nil {
		s.internalError(w, "delete conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id, "deleted": n})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Describe()})
}

type toolStat struct {
	Name  string `json:"name"`
	Calls int64  `json:"calls"`
}

func (s *Server) handleToolStats(w http.ResponseWriter, r *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusServiceUnavailable, "memory is not configured")
		return
	}
	usage, err := s.memory.ToolUsage(r.Context(), queryLimit(r))
	if err != nil {
		s.internalError(w, "tool usage", err)
		return
	}
	out := make([]toolStat, 0, len(usage))
	for _, u := range usage {
		out = append(out, toolStat{Name: u.Member, Calls: int64(u.Score)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleRAGUpsert(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is disabled")
		return
	}
	var doc domain.Document
	if err := decodeBody(w, r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if doc.SourceID == "" || doc.Content == "" {
		writeError(w, http.StatusBadRequest, "sourceId and content are required")
		return
	}
	res, err := s.rag.Upsert(r.Context(), doc)
	if err != nil {
		s.internalError(w, "index document", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRAGSources(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is disabled")
		return
	}
	sources, err := s.rag.Sources(r.Context())
	if err != nil {
		s.internalError(w, "list sources", err)
		return
	}
	if sources == nil {
		sources = []domain.SourceInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (s *Server) handleRAGRemove(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is disabled")
		return
	}
	id := r.PathValue("id")
	n, err := s.rag.RemoveBySource(r.Context(), id)
	if err != nil {
		s.internalError(w, "remove source", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sourceId": id, "removed": n})
}

func (s *Server) handleRAGSearch(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is disabled")
		return
	}
	var q rag.Query
	if err := decodeBody(w, r, &q); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results, err := s.search(r.Context(), q)
	if err != nil {
		s.internalError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// search fills unset query fields from the engine defaults.
func (s *Server) search(ctx context.Context, q rag.Query) ([]rag.Result, error) {
	def := s.rag.DefaultQuery(q.Text)
	if q.TopK <= 0 {
		q.TopK = def.TopK
	}
	if q.ScoreThreshold == 0 {
		q.ScoreThreshold = def.ScoreThreshold
	}
	results, err := s.rag.Search(ctx, q)
	if results == nil {
		results = []rag.Result{}
	}
	return results, err
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("api request failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

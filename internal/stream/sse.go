package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned when writing to a closed transport.
var ErrClosed = errors.New("stream: transport closed")

// SSE frames events as Server-Sent Events. Writes are serialized so
// heartbeats can run concurrently with the turn.
type SSE struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

var _ Transport = (*SSE)(nil)

// NewSSE prepares w for an event stream and writes the response headers.
func NewSSE(w http.ResponseWriter) *SSE {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &SSE{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
		f.Flush()
	}
	return s
}

// NewSSEWriter frames events onto a plain writer.
func NewSSEWriter(w io.Writer) *SSE {
	s := &SSE{w: w}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Emit writes "data: <json>\n\n".
func (s *SSE) Emit(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.write("data: " + string(data) + "\n\n")
}

// Heartbeat writes an SSE comment that clients ignore.
func (s *SSE) Heartbeat() error {
	return s.write(": heartbeat\n\n")
}

// Close writes the terminal [DONE] sentinel once.
func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.writeLocked("data: [DONE]\n\n")
}

func (s *SSE) write(frame string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.writeLocked(frame)
}

func (s *SSE) writeLocked(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

package llm

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxSSELine bounds a single SSE line; tool-call argument chunks can be long.
const maxSSELine = 1 << 20

// serverSentEventScanner reads the data payloads of Server-Sent Events.
type serverSentEventScanner struct {
	scanner *bufio.Scanner
	data    string
}

// newServerSentEventScanner creates a new SSE scanner.
func newServerSentEventScanner(r io.Reader) *serverSentEventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &serverSentEventScanner{scanner: sc}
}

// Scan advances to the next event with a data payload. Multi-line data
// fields are joined with newlines; comments and other fields are skipped.
func (s *serverSentEventScanner) Scan() bool {
	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				s.data = strings.Join(lines, "\n")
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(v, " "))
		}
	}
	if len(lines) > 0 {
		s.data = strings.Join(lines, "\n")
		return true
	}
	return false
}

// Data returns the payload of the last scanned event.
func (s *serverSentEventScanner) Data() string {
	return s.data
}

// Err reports a read error other than EOF.
func (s *serverSentEventScanner) Err() error {
	return s.scanner.Err()
}

// providerErrorFromResponse builds a ProviderError from a non-2xx response.
func providerErrorFromResponse(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &ProviderError{Provider: provider, Code: resp.StatusCode, Message: msg}
}

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

package agent

import (
	"sort"
	"strings"

	"github.com/lithammer/shortuuid/v4"

	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/stream"
)

type partialCall struct {
	index   int
	id      string
	name    string
	args    strings.Builder
	started bool
}

// accumulator reassembles streamed tool-call fragments keyed by index.
type accumulator struct {
	calls map[int]*partialCall
	em    *stream.Emitter
	newID func() string
}

func newAccumulator(em *stream.Emitter) *accumulator {
	return &accumulator{
		calls: make(map[int]*partialCall),
		em:    em,
		newID: func() string { return "call_" + shortuuid.New() },
	}
}

// Add merges one fragment. The id is fixed by the first fragment of an
// index, generated when the model sent none. The name is taken from the
// first fragment that carries one, and the call is announced only then;
// arguments seen before that are replayed right after the start event.
func (a *accumulator) Add(d llm.ToolCallDelta) {
	c, ok := a.calls[d.Index]
	if !ok {
		c = &partialCall{index: d.Index, id: d.ID}
		if c.id == "" {
			c.id = a.newID()
		}
		a.calls[d.Index] = c
	}
	if c.name == "" && d.Name != "" {
		c.name = d.Name
	}
	c.args.WriteString(d.Arguments)

	switch {
	case !c.started && c.name != "":
		a.start(c)
	case c.started && d.Arguments != "":
		a.em.ToolArgs(c.id, d.Arguments)
	}
}

func (a *accumulator) start(c *partialCall) {
	c.started = true
	a.em.ToolStart(c.id, c.name)
	if c.args.Len() > 0 {
		a.em.ToolArgs(c.id, c.args.String())
	}
}

// Len returns the number of distinct calls seen.
func (a *accumulator) Len() int { return len(a.calls) }

// Calls returns the assembled calls in index order. Calls that never got a
// name are announced here so every call still has a start event.
func (a *accumulator) Calls() []llm.ToolCall {
	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]llm.ToolCall, 0, len(idx))
	for _, i := range idx {
		c := a.calls[i]
		if !c.started {
			a.start(c)
		}
		out = append(out, llm.ToolCall{ID: c.id, Name: c.name, Arguments: c.args.String()})
	}
	return out
}

// Package builtin provides the default tool set as a plugin.
package builtin

import (
	"context"
	"time"

	"github.com/soyeahso/shopagent/internal/plugin"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/soyeahso/shopagent/internal/version"
)

// Tool names.
const (
	ToolCurrentTime     = "current_time"
	ToolCalculate       = "calculate"
	ToolSearchKnowledge = "search_knowledge"
	ToolListFiles       = "list_files"
	ToolDeleteFile      = "delete_file"
)

// Searcher is the retrieval dependency of search_knowledge.
type Searcher interface {
	Search(ctx context.Context, q rag.Query) ([]rag.Result, error)
	DefaultQuery(text string) rag.Query
}

// Plugin registers the builtin tools. search_knowledge is only registered
// with a Searcher, the file tools only with a sandbox directory.
type Plugin struct {
	Searcher Searcher
	Sandbox  string
	Now      func() time.Time
}

var _ plugin.Plugin = (*Plugin)(nil)

func (p *Plugin) ID() string      { return "builtin" }
func (p *Plugin) Name() string    { return "Builtin tools" }
func (p *Plugin) Version() string { return version.Version }
func (p *Plugin) Close() error    { return nil }

// Init registers the tools with the plugin API.
func (p *Plugin) Init(_ context.Context, api plugin.API) error {
	for _, meta := range p.Tools() {
		if err := api.Tools.Register(meta); err != nil {
			return err
		}
	}
	api.Log.Debug().Int("tools", api.Tools.Len()).Msg("builtin tools registered")
	return nil
}

// Tools returns the metadata of every tool this plugin provides.
func (p *Plugin) Tools() []tools.Metadata {
	now := p.Now
	if now == nil {
		now = time.Now
	}

	list := []tools.Metadata{currentTime(now), calculate()}
	if p.Searcher != nil {
		list = append(list, searchKnowledge(p.Searcher))
	}
	if p.Sandbox != "" {
		sb := sandbox(p.Sandbox)
		list = append(list, listFiles(sb), deleteFile(sb))
	}
	return list
}

package builtin

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/soyeahso/shopagent/internal/plugin"
	"github.com/soyeahso/shopagent/internal/rag"
	"github.com/soyeahso/shopagent/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

type fakeSearcher struct {
	got     rag.Query
	results []rag.Result
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, q rag.Query) ([]rag.Result, error) {
	f.got = q
	return f.results, f.err
}

func (f *fakeSearcher) DefaultQuery(text string) rag.Query {
	return rag.Query{Text: text, TopK: 4, ScoreThreshold: 0.3}
}

func setup(t *testing.T, p *Plugin) *tools.Registry {
	t.Helper()
	log := silentLog()
	tr := tools.NewRegistry(log)
	reg := plugin.NewRegistry(hooks.NewManager(log), tr, log)
	require.NoError(t, reg.Register(p))
	require.NoError(t, reg.InitAll(context.Background()))
	return tr
}

func data(t *testing.T, res tools.Result) map[string]any {
	t.Helper()
	require.True(t, res.Success, res.Message)
	m, ok := res.Data.(map[string]any)
	require.True(t, ok)
	return m
}

func TestPluginRegistersByDependency(t *testing.T) {
	names := func(tr *tools.Registry) []string {
		var out []string
		for _, m := range tr.List() {
			out = append(out, m.Name)
		}
		return out
	}

	assert.Equal(t, []string{ToolCurrentTime, ToolCalculate}, names(setup(t, &Plugin{})))

	full := setup(t, &Plugin{Searcher: &fakeSearcher{}, Sandbox: t.TempDir()})
	assert.Equal(t, []string{ToolCurrentTime, ToolCalculate, ToolSearchKnowledge, ToolListFiles, ToolDeleteFile}, names(full))
	assert.True(t, full.RequiresConfirmation(ToolDeleteFile))
	assert.False(t, full.RequiresConfirmation(ToolListFiles))
}

func TestCalculate(t *testing.T) {
	tr := setup(t, &Plugin{})
	ctx := context.Background()

	res, err := tr.Execute(ctx, ToolCalculate, tools.Args{"expression": "123*456"})
	require.NoError(t, err)
	assert.Equal(t, "56088", data(t, res)["result"])

	res, err = tr.Execute(ctx, ToolCalculate, tools.Args{"expression": "1/0"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "division by zero")

	res, err = tr.Execute(ctx, ToolCalculate, tools.Args{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "missing required field")
}

func TestCurrentTime(t *testing.T) {
	fixed := time.Date(2026, 7, 4, 18, 30, 0, 0, time.UTC)
	tr := setup(t, &Plugin{Now: func() time.Time { return fixed }})
	ctx := context.Background()

	res, err := tr.Execute(ctx, ToolCurrentTime, nil)
	require.NoError(t, err)
	d := data(t, res)
	assert.Equal(t, "UTC", d["timezone"])
	assert.Equal(t, "2026-07-04T18:30:00Z", d["iso"])
	assert.Equal(t, fixed.Unix(), d["unix"])

	res, err = tr.Execute(ctx, ToolCurrentTime, tools.Args{"timezone": "Asia/Kolkata"})
	require.NoError(t, err)
	d = data(t, res)
	assert.Equal(t, "2026-07-05T00:00:00+05:30", d["iso"])
	assert.Equal(t, "+05:30", d["offset"])

	res, err = tr.Execute(ctx, ToolCurrentTime, tools.Args{"timezone": "Mars/Olympus"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestSearchKnowledge(t *testing.T) {
	s := &fakeSearcher{results: []rag.Result{{SourceID: "faq", Title: "Returns", Content: "30 days", Score: 0.91}}}
	tr := setup(t, &Plugin{Searcher: s})

	res, err := tr.Execute(context.Background(), ToolSearchKnowledge, tools.Args{"query": " return policy ", "top_k": float64(2)})
	require.NoError(t, err)
	d := data(t, res)
	assert.Equal(t, "return policy", s.got.Text)
	assert.Equal(t, 2, s.got.TopK)
	assert.Equal(t, 0.3, s.got.ScoreThreshold)
	snippets := d["results"].([]snippet)
	require.Len(t, snippets, 1)
	assert.Equal(t, "faq", snippets[0].SourceID)
}

func TestSearchKnowledgeEmptyAndError(t *testing.T) {
	s := &fakeSearcher{}
	tr := setup(t, &Plugin{Searcher: s})

	res, err := tr.Execute(context.Background(), ToolSearchKnowledge, tools.Args{"query": "anything"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "no matching passages", res.Message)
	assert.Equal(t, 4, s.got.TopK)

	s.err = errors.New("store offline")
	res, err = tr.Execute(context.Background(), ToolSearchKnowledge, tools.Args{"query": "anything"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "store offline", res.Message)
}

func TestSandboxResolve(t *testing.T) {
	sb := sandbox("/srv/sandbox")
	tests := map[string]string{
		"":                     ".",
		"/":                    ".",
		"a.txt":                "a.txt",
		"/a.txt":               "a.txt",
		"../../etc/passwd":     "etc/passwd",
		"docs/../../../secret": "secret",
		"docs/./x/../y.md":     "docs/y.md",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got := sb.resolve(in)
			assert.Equal(t, want, got)
			assert.True(t, fs.ValidPath(got), got)
		})
	}
	assert.Equal(t, "/", sb.rel("."))
	assert.Equal(t, "/docs/y.md", sb.rel("docs/y.md"))
}

func TestListAndDeleteFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("bye"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))

	tr := setup(t, &Plugin{Sandbox: root})
	ctx := context.Background()

	res, err := tr.Execute(ctx, ToolListFiles, nil)
	require.NoError(t, err)
	entries := data(t, res)["entries"].([]fileEntry)
	require.Len(t, entries, 3)
	assert.Equal(t, "a.txt", entries[0].Name)
	assert.Equal(t, int64(5), entries[0].Size)
	assert.True(t, entries[2].Dir)

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "docs"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "is a directory")

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "../"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "workspace root")

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "missing.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "../a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "/a.txt", data(t, res)["deleted"])
	assert.NoFileExists(t, filepath.Join(root, "a.txt"))
	assert.FileExists(t, filepath.Join(root, "b.txt"))

	res, err = tr.Execute(ctx, ToolListFiles, tools.Args{"path": "nope"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestFileToolsStayInsideSymlinkedWorkspace(t *testing.T) {
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("keep"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Symlink("docs", filepath.Join(root, "inner")))

	tr := setup(t, &Plugin{Sandbox: root})
	ctx := context.Background()

	res, err := tr.Execute(ctx, ToolListFiles, tools.Args{"path": "escape"})
	require.NoError(t, err)
	assert.False(t, res.Success)

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "escape/secret.txt"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.FileExists(t, secret)

	res, err = tr.Execute(ctx, ToolListFiles, tools.Args{"path": "inner"})
	require.NoError(t, err)
	entries := data(t, res)["entries"].([]fileEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.txt", entries[0].Name)

	res, err = tr.Execute(ctx, ToolDeleteFile, tools.Args{"path": "escape"})
	require.NoError(t, err)
	assert.Equal(t, "/escape", data(t, res)["deleted"])
	assert.FileExists(t, secret)
}

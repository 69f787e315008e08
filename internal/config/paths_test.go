package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single segment", "rag", []string{"rag"}, false},
		{"nested", "llm.embedding.model", []string{"llm", "embedding", "model"}, false},
		{"empty", "", nil, true},
		{"empty segment", "rag..topK", nil, true},
		{"trailing dot", "rag.", nil, true},
		{"blocked key", "agent.__proto__", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigPath(tt.input)
			if tt.wantErr {
				var ce *ConfigError
				assert.ErrorAs(t, err, &ce)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValueAtPath(t *testing.T) {
	root := map[string]any{
		"rag": map[string]any{"topK": 4},
	}

	v, ok := GetValueAtPath(root, []string{"rag", "topK"})
	require.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok = GetValueAtPath(root, []string{"rag", "topK", "deeper"})
	assert.False(t, ok)

	SetValueAtPath(root, []string{"memory", "summarizeEvery"}, 20)
	v, ok = GetValueAtPath(root, []string{"memory", "summarizeEvery"})
	require.True(t, ok)
	assert.Equal(t, 20, v)

	SetValueAtPath(root, []string{"rag", "topK", "x"}, 1)
	v, _ = GetValueAtPath(root, []string{"rag", "topK"})
	assert.Equal(t, map[string]any{"x": 1}, v)

	assert.True(t, UnsetValueAtPath(root, []string{"memory", "summarizeEvery"}))
	assert.False(t, UnsetValueAtPath(root, []string{"memory", "summarizeEvery"}))
	assert.False(t, UnsetValueAtPath(root, []string{"missing", "key"}))
	_, ok = root["memory"]
	assert.True(t, ok, "sibling container is kept")
}

func TestResolvePathsDefaultHome(t *testing.T) {
	t.Setenv("SHOPAGENT_HOME", "")
	t.Setenv("SHOPAGENT_CONFIG", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".shopagent")
	assert.Equal(t, base, paths.Base)
	assert.Equal(t, filepath.Join(base, "config.yaml"), paths.Config)
	assert.Equal(t, filepath.Join(base, "data", "shopagent.db"), paths.Store)
	assert.Equal(t, filepath.Join(base, "sandbox"), paths.Sandbox)
}

func TestResolvePathsOverrides(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("SHOPAGENT_HOME", tmp)
	t.Setenv("SHOPAGENT_CONFIG", "/etc/shopagent.yaml")

	paths, err := ResolvePaths()
	require.NoError(t, err)
	assert.Equal(t, tmp, paths.Base)
	assert.Equal(t, "/etc/shopagent.yaml", paths.Config)
	assert.Equal(t, filepath.Join(tmp, "logs"), paths.Logs)
}

func TestEnsureDirs(t *testing.T) {
	t.Setenv("SHOPAGENT_HOME", t.TempDir())
	t.Setenv("SHOPAGENT_CONFIG", "")

	paths, err := ResolvePaths()
	require.NoError(t, err)
	require.NoError(t, paths.EnsureDirs())
	require.NoError(t, paths.EnsureDirs())

	for _, d := range []string{paths.Data, paths.Sandbox, paths.Logs} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestPathsResolve(t *testing.T) {
	p := Paths{Store: "/data/db", Sandbox: "/data/sandbox"}

	cfg := Defaults()
	p.Resolve(&cfg)
	assert.Equal(t, "/data/db", cfg.Store.Path)
	assert.Equal(t, "/data/sandbox", cfg.Tools.SandboxDir)

	cfg.Store.Path = "/custom.db"
	p.Resolve(&cfg)
	assert.Equal(t, "/custom.db", cfg.Store.Path)
}

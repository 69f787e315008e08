package cli

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"true", true},
		{"FALSE", false},
		{"42", 42},
		{"-7", -7},
		{"0.25", 0.25},
		{"1e3", 1000.0},
		{"gpt-4o-mini", "gpt-4o-mini"},
		{"12abc", "12abc"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseValue(tt.in))
		})
	}
}

func TestConfigSetGetUnset(t *testing.T) {
	cfgPath := testHome(t, "")

	out, err := execute(t, "config", "set", "gateway.port", "9000")
	require.NoError(t, err)
	assert.Equal(t, "Set gateway.port = 9000\n", out)
	assert.FileExists(t, cfgPath)

	_, err = execute(t, "config", "set", "llm.model", "llama3")
	require.NoError(t, err)

	out, err = execute(t, "config", "get", "gateway.port")
	require.NoError(t, err)
	assert.Equal(t, "9000\n", out)

	out, err = execute(t, "config", "get", "llm")
	require.NoError(t, err)
	assert.Equal(t, "model: llama3\n", out)

	out, err = execute(t, "config", "unset", "llm.model")
	require.NoError(t, err)
	assert.Equal(t, "Unset llm.model\n", out)

	_, err = execute(t, "config", "get", "llm.model")
	assert.ErrorContains(t, err, `key "llm.model" not found`)

	_, err = execute(t, "config", "unset", "llm.model")
	assert.ErrorContains(t, err, "not found")
}

func TestConfigPathFlag(t *testing.T) {
	testHome(t, "")
	custom := t.TempDir() + "/custom.yaml"

	out, err := execute(t, "--config", custom, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, custom+"\n", out)
}

func TestConfigInvalidPath(t *testing.T) {
	testHome(t, "")
	_, err := execute(t, "config", "set", "gateway.__proto__", "x")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		testHome(t, memoryConfig)
		out, err := execute(t, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, out, ": ok")
	})

	t.Run("issues", func(t *testing.T) {
		cfgPath := testHome(t, "")
		require.NoError(t, os.WriteFile(cfgPath, []byte("gateway:\n  bind: everywhere\nstore:\n  driver: redis\n"), 0o600))

		out, err := execute(t, "config", "validate")
		assert.ErrorContains(t, err, "2 validation issue(s)")
		assert.Contains(t, out, "gateway.bind")
		assert.Contains(t, out, "store.driver")
	})
}

func TestStatusCmd(t *testing.T) {
	testHome(t, memoryConfig)
	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "shopagent dev")
	assert.Contains(t, out, "Gateway: port=18790 bind=loopback auth=token")
	assert.Contains(t, out, "RAG:     disabled")
	assert.Contains(t, out, "Store:   memory")
	assert.NotContains(t, out, "Validation issues")
}

func TestStatusMissingConfig(t *testing.T) {
	testHome(t, "")
	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "not found, using defaults")
	assert.Contains(t, out, "Store:   sqlite")
}

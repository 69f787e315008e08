package config

import (
	"os"
	"path/filepath"
	"strings"
)

const defaultBaseDir = ".shopagent"

// Paths holds resolved filesystem paths for shopagent data.
type Paths struct {
	Base    string // ~/.shopagent
	Config  string // ~/.shopagent/config.yaml
	Data    string // ~/.shopagent/data
	Store   string // ~/.shopagent/data/shopagent.db
	Sandbox string // ~/.shopagent/sandbox
	Logs    string // ~/.shopagent/logs
}

// ResolvePaths computes all standard paths from the home directory.
// SHOPAGENT_HOME overrides the base directory and SHOPAGENT_CONFIG the
// config file location.
func ResolvePaths() (Paths, error) {
	base := os.Getenv("SHOPAGENT_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, err
		}
		base = filepath.Join(home, defaultBaseDir)
	}

	p := Paths{
		Base:    base,
		Config:  filepath.Join(base, "config.yaml"),
		Data:    filepath.Join(base, "data"),
		Store:   filepath.Join(base, "data", "shopagent.db"),
		Sandbox: filepath.Join(base, "sandbox"),
		Logs:    filepath.Join(base, "logs"),
	}
	if v := os.Getenv("SHOPAGENT_CONFIG"); v != "" {
		p.Config = v
	}
	return p, nil
}

// EnsureDirs creates all standard directories if they don't exist.
func (p Paths) EnsureDirs() error {
	for _, d := range []string{p.Base, p.Data, p.Sandbox, p.Logs} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// Resolve fills path-valued settings that were left empty in cfg.
func (p Paths) Resolve(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = p.Store
	}
	if cfg.Tools.SandboxDir == "" {
		cfg.Tools.SandboxDir = p.Sandbox
	}
}

// blockedKeys are keys that must never appear in config paths.
var blockedKeys = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ParseConfigPath splits a dot-separated config path into segments.
// Returns an error if any segment is blocked or empty.
func ParseConfigPath(raw string) ([]string, error) {
	if raw == "" {
		return nil, &ConfigError{Message: "empty config path"}
	}
	parts := strings.Split(raw, ".")
	for _, p := range parts {
		if p == "" {
			return nil, &ConfigError{Message: "config path contains empty segment"}
		}
		if blockedKeys[p] {
			return nil, &ConfigError{Message: "config path contains blocked key: " + p}
		}
	}
	return parts, nil
}

// GetValueAtPath traverses a nested map using the given path segments.
func GetValueAtPath(root map[string]any, path []string) (any, bool) {
	current := any(root)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValueAtPath sets a value in a nested map, creating intermediate maps as needed.
func SetValueAtPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			m = map[string]any{}
			current[key] = m
		}
		current = m
	}
	current[path[len(path)-1]] = value
}

// UnsetValueAtPath removes a value at the given path. Returns true if removed.
func UnsetValueAtPath(root map[string]any, path []string) bool {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key]
		if !ok {
			return false
		}
		m, ok := next.(map[string]any)
		if !ok {
			return false
		}
		current = m
	}
	last := path[len(path)-1]
	if _, ok := current[last]; !ok {
		return false
	}
	delete(current, last)
	return true
}

package config

import (
	"fmt"
	"regexp"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind is custom")
	}
	validAuthModes := []string{"none", "token", "password"}
	if cfg.Gateway.Auth.Mode != "" && !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}

	// LLM
	validProviders := []string{"openai", "ollama"}
	if cfg.LLM.Provider != "" && !slices.Contains(validProviders, cfg.LLM.Provider) {
		add("llm.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Provider)
	}
	if cfg.LLM.Embedding.Provider != "" && !slices.Contains(validProviders, cfg.LLM.Embedding.Provider) {
		add("llm.embedding.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Embedding.Provider)
	}
	if cfg.LLM.TimeoutSeconds < 0 {
		add("llm.timeoutSeconds", "must not be negative")
	}
	for i, fb := range cfg.LLM.Fallbacks {
		if fb.Name == "" {
			add(fmt.Sprintf("llm.fallbacks[%d].name", i), "name is required")
		}
		if fb.Provider != "" && !slices.Contains(validProviders, fb.Provider) {
			add(fmt.Sprintf("llm.fallbacks[%d].provider", i), "must be one of %v, got %q", validProviders, fb.Provider)
		}
	}

	// Agent
	if cfg.Agent.MaxIterations < 1 || cfg.Agent.MaxIterations > 20 {
		add("agent.maxIterations", "must be 1-20, got %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.ToolIntentPattern != "" {
		if _, err := regexp.Compile(cfg.Agent.ToolIntentPattern); err != nil {
			add("agent.toolIntentPattern", "invalid regular expression: %v", err)
		}
	}

	// Memory
	if cfg.Memory.KeepAfterSummary >= cfg.Memory.MaxMessages {
		add("memory.keepAfterSummary", "must be less than memory.maxMessages (%d)", cfg.Memory.MaxMessages)
	}
	if cfg.Memory.SummaryHistory < 0 {
		add("memory.summaryHistory", "must not be negative")
	}

	// RAG
	if cfg.RAG.ChunkSize <= 0 {
		add("rag.chunkSize", "must be positive, got %d", cfg.RAG.ChunkSize)
	}
	if cfg.RAG.ChunkOverlap < 0 || cfg.RAG.ChunkOverlap >= cfg.RAG.ChunkSize {
		add("rag.chunkOverlap", "must be between 0 and chunkSize-1, got %d", cfg.RAG.ChunkOverlap)
	}
	if cfg.RAG.ScoreThreshold < -1 || cfg.RAG.ScoreThreshold > 1 {
		add("rag.scoreThreshold", "must be between -1 and 1, got %v", cfg.RAG.ScoreThreshold)
	}

	// Store
	validDrivers := []string{"sqlite", "memory"}
	if cfg.Store.Driver != "" && !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Logging
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", validLogLevels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}

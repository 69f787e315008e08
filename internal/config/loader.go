package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	cfg.Gateway.Auth.Password = expandEnvVars(cfg.Gateway.Auth.Password)
	cfg.LLM.APIKey = expandEnvVars(cfg.LLM.APIKey)
	cfg.LLM.Embedding.APIKey = expandEnvVars(cfg.LLM.Embedding.APIKey)
	for i := range cfg.LLM.Fallbacks {
		cfg.LLM.Fallbacks[i].APIKey = expandEnvVars(cfg.LLM.Fallbacks[i].APIKey)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return Defaults(), err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18790
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Gateway.Auth.Mode == "" {
		cfg.Gateway.Auth.Mode = "token"
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = defaultBaseURL(cfg.LLM.Provider)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 120
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Embedding.Provider == "" {
		cfg.LLM.Embedding.Provider = cfg.LLM.Provider
	}
	if cfg.LLM.Embedding.BaseURL == "" {
		if cfg.LLM.Embedding.Provider == cfg.LLM.Provider {
			cfg.LLM.Embedding.BaseURL = cfg.LLM.BaseURL
		} else {
			cfg.LLM.Embedding.BaseURL = defaultBaseURL(cfg.LLM.Embedding.Provider)
		}
	}
	if cfg.LLM.Embedding.APIKey == "" {
		cfg.LLM.Embedding.APIKey = cfg.LLM.APIKey
	}
	if cfg.LLM.Embedding.Model == "" {
		cfg.LLM.Embedding.Model = "text-embedding-3-small"
	}
	for i := range cfg.LLM.Fallbacks {
		fb := &cfg.LLM.Fallbacks[i]
		if fb.Provider == "" {
			fb.Provider = cfg.LLM.Provider
		}
		if fb.BaseURL == "" {
			fb.BaseURL = defaultBaseURL(fb.Provider)
		}
		if fb.Model == "" {
			fb.Model = cfg.LLM.Model
		}
	}

	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "Shopagent"
	}
	if cfg.Agent.Persona == "" {
		cfg.Agent.Persona = DefaultPersona
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 5
	}
	if cfg.Agent.HeartbeatSeconds == 0 {
		cfg.Agent.HeartbeatSeconds = 15
	}
	if cfg.Agent.ToolIntentPattern == "" {
		cfg.Agent.ToolIntentPattern = `(?i)\b(use a tool|search)\b`
	}
	if cfg.Agent.ForcedTool == "" {
		cfg.Agent.ForcedTool = "search_knowledge"
	}

	if cfg.Memory.MaxMessages == 0 {
		cfg.Memory.MaxMessages = 40
	}
	if cfg.Memory.SummarizeEvery == 0 {
		cfg.Memory.SummarizeEvery = 12
	}
	if cfg.Memory.TokenThreshold == 0 {
		cfg.Memory.TokenThreshold = 3000
	}
	if cfg.Memory.KeepAfterSummary == 0 {
		cfg.Memory.KeepAfterSummary = 5
	}
	if cfg.Memory.SummaryHistory == 0 {
		cfg.Memory.SummaryHistory = 3
	}
	if cfg.Memory.SummaryMaxChars == 0 {
		cfg.Memory.SummaryMaxChars = 200
	}
	if cfg.Memory.TTLHours == 0 {
		cfg.Memory.TTLHours = 24 * 7
	}

	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 800
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 120
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 4
	}
	if cfg.RAG.ScoreThreshold == 0 {
		cfg.RAG.ScoreThreshold = 0.3
	}
	if cfg.RAG.EmbeddingCacheTTLSeconds == 0 {
		cfg.RAG.EmbeddingCacheTTLSeconds = 3600
	}
	if cfg.RAG.ListCacheTTLSeconds == 0 {
		cfg.RAG.ListCacheTTLSeconds = 30
	}
	if cfg.RAG.Concurrency == 0 {
		cfg.RAG.Concurrency = 4
	}

	if cfg.Tools.PendingTTLMinutes == 0 {
		cfg.Tools.PendingTTLMinutes = 15
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

func defaultBaseURL(provider string) string {
	if provider == "ollama" {
		return "http://localhost:11434/v1"
	}
	return "https://api.openai.com/v1"
}

// applyEnvOverrides reads SHOPAGENT_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SHOPAGENT_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("SHOPAGENT_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("SHOPAGENT_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("SHOPAGENT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SHOPAGENT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
		if cfg.LLM.Embedding.APIKey == "" {
			cfg.LLM.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("SHOPAGENT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SHOPAGENT_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.Embedding.Model = v
	}
	if v := os.Getenv("SHOPAGENT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SHOPAGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

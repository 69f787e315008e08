package config

import "time"

// Config is the root configuration for shopagent.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	LLM     LLMConfig     `yaml:"llm,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Memory  MemoryConfig  `yaml:"memory,omitempty"`
	RAG     RAGConfig     `yaml:"rag,omitempty"`
	Tools   ToolsConfig   `yaml:"tools,omitempty"`
	Store   StoreConfig   `yaml:"store,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int              `yaml:"port,omitempty"`
	Bind           string           `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string           `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth      `yaml:"auth,omitempty"`
	ControlUI      GatewayControlUI `yaml:"controlUi,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode,omitempty"` // "none" | "token" | "password"
	Token    string `yaml:"token,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// GatewayControlUI configures browser access to the gateway.
type GatewayControlUI struct {
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// LLMConfig selects the chat-completion and embedding endpoints.
type LLMConfig struct {
	Provider       string          `yaml:"provider,omitempty"` // "openai" | "ollama"
	BaseURL        string          `yaml:"baseUrl,omitempty"`
	APIKey         string          `yaml:"apiKey,omitempty"`
	Model          string          `yaml:"model,omitempty"`
	Fallbacks      []LLMFallback   `yaml:"fallbacks,omitempty"`
	TimeoutSeconds int             `yaml:"timeoutSeconds,omitempty"`
	MaxTokens      int             `yaml:"maxTokens,omitempty"`
	Temperature    *float64        `yaml:"temperature,omitempty"`
	Embedding      EmbeddingConfig `yaml:"embedding,omitempty"`
}

// LLMFallback is an extra provider tried when the primary fails.
type LLMFallback struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider,omitempty"`
	BaseURL  string `yaml:"baseUrl,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// EmbeddingConfig selects the text-embedding endpoint.
type EmbeddingConfig struct {
	Provider string `yaml:"provider,omitempty"` // "openai" | "ollama"
	BaseURL  string `yaml:"baseUrl,omitempty"`
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// AgentConfig controls the orchestration loop.
type AgentConfig struct {
	Name              string `yaml:"name,omitempty"`
	Persona           string `yaml:"persona,omitempty"`
	MaxIterations     int    `yaml:"maxIterations,omitempty"`
	HeartbeatSeconds  int    `yaml:"heartbeatSeconds,omitempty"`
	ToolIntentPattern string `yaml:"toolIntentPattern,omitempty"`
	ForcedTool        string `yaml:"forcedTool,omitempty"`
	TurnLock          *bool  `yaml:"turnLock,omitempty"`
}

// MemoryConfig controls conversation history and summarization.
type MemoryConfig struct {
	MaxMessages      int `yaml:"maxMessages,omitempty"`
	SummarizeEvery   int `yaml:"summarizeEvery,omitempty"`
	TokenThreshold   int `yaml:"tokenThreshold,omitempty"`
	KeepAfterSummary int `yaml:"keepAfterSummary,omitempty"`
	SummaryHistory   int `yaml:"summaryHistory,omitempty"`
	SummaryMaxChars  int `yaml:"summaryMaxChars,omitempty"`
	TTLHours         int `yaml:"ttlHours,omitempty"`
}

// RAGConfig controls document chunking and retrieval.
type RAGConfig struct {
	Enabled                  *bool   `yaml:"enabled,omitempty"`
	ChunkSize                int     `yaml:"chunkSize,omitempty"`
	ChunkOverlap             int     `yaml:"chunkOverlap,omitempty"`
	TopK                     int     `yaml:"topK,omitempty"`
	ScoreThreshold           float64 `yaml:"scoreThreshold,omitempty"`
	EmbeddingCacheTTLSeconds int     `yaml:"embeddingCacheTtlSeconds,omitempty"`
	ListCacheTTLSeconds      int     `yaml:"listCacheTtlSeconds,omitempty"`
	Concurrency              int     `yaml:"concurrency,omitempty"`
}

// ToolsConfig controls tool execution policy.
type ToolsConfig struct {
	Confirmation      *bool  `yaml:"confirmation,omitempty"`
	SandboxDir        string `yaml:"sandboxDir,omitempty"`
	PendingTTLMinutes int    `yaml:"pendingTtlMinutes,omitempty"`
}

// StoreConfig selects the key-value backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// HooksConfig defines shell commands run on agent events.
type HooksConfig struct {
	TurnStarted  []HookEntry `yaml:"turnStarted,omitempty"`
	TurnFinished []HookEntry `yaml:"turnFinished,omitempty"`
	ToolExecuted []HookEntry `yaml:"toolExecuted,omitempty"`
	GatewayStart []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop  []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}

// RAGEnabled reports whether retrieval runs during context build.
func (c RAGConfig) RAGEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ConfirmationEnabled reports whether confirmation-gated tools wait for approval.
func (c ToolsConfig) ConfirmationEnabled() bool {
	return c.Confirmation == nil || *c.Confirmation
}

// TurnLockEnabled reports whether turns on one conversation are serialized.
func (c AgentConfig) TurnLockEnabled() bool {
	return c.TurnLock == nil || *c.TurnLock
}

// Heartbeat returns the stream heartbeat interval.
func (c AgentConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Timeout returns the per-request LLM timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTL returns how long idle conversation state is kept.
func (c MemoryConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// EmbeddingCacheTTL returns the lifetime of cached embeddings.
func (c RAGConfig) EmbeddingCacheTTL() time.Duration {
	return time.Duration(c.EmbeddingCacheTTLSeconds) * time.Second
}

// ListCacheTTL returns the lifetime of the in-process chunk listing.
func (c RAGConfig) ListCacheTTL() time.Duration {
	return time.Duration(c.ListCacheTTLSeconds) * time.Second
}

// PendingTTL returns how long an unconfirmed tool call is kept.
func (c ToolsConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}

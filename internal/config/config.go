package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultPersona is the instruction block used when agent.persona is unset.
const DefaultPersona = `You are the shopping assistant of an online store. Answer briefly and accurately.
Use the available tools when they help, and never invent tool results.
When a knowledge excerpt answers the question, rely on it and mention its source.`

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

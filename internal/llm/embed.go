package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/soyeahso/shopagent/internal/config"
)

// EmbedFunc adapts a plain function to the Embedder interface.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// ErrEmptyEmbedding is returned when a provider answers with no vector.
var ErrEmptyEmbedding = errors.New("llm: empty embedding")

// NewEmbedder builds an Embedder for the configured provider. OpenAI-style
// endpoints return normalized vectors; Ollama's native API is used for
// "ollama" so local models work without an OpenAI shim.
func NewEmbedder(cfg config.EmbeddingConfig) (Embedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm: embedding model is required")
	}

	var fn chromem.EmbeddingFunc
	switch cfg.Provider {
	case "ollama":
		fn = chromem.NewEmbeddingFuncOllama(cfg.Model, ollamaAPIBase(cfg.BaseURL))
	case "openai", "":
		normalized := true
		fn = chromem.NewEmbeddingFuncOpenAICompat(strings.TrimSuffix(cfg.BaseURL, "/"), cfg.APIKey, cfg.Model, &normalized)
	default:
		return nil, fmt.Errorf("llm: unknown embedding provider %q", cfg.Provider)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "openai"
	}
	return EmbedFunc(func(ctx context.Context, text string) ([]float32, error) {
		vec, err := fn(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%s embedding: %w", provider, err)
		}
		if len(vec) == 0 {
			return nil, ErrEmptyEmbedding
		}
		return vec, nil
	}), nil
}

// ollamaAPIBase maps an Ollama base URL (possibly the /v1 compat root) to
// the native /api root.
func ollamaAPIBase(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	base := strings.TrimSuffix(baseURL, "/")
	base = strings.TrimSuffix(base, "/v1")
	if strings.HasSuffix(base, "/api") {
		return base
	}
	return base + "/api"
}

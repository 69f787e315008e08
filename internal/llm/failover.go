package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/shopagent/internal/logging"
)

// FailoverClient tries providers in order, moving to the next one on
// retryable errors (401, 403, 429, 5xx, timeouts).
type FailoverClient struct {
	registry  *Registry
	providers []string
	log       *logging.Logger
}

var _ Client = (*FailoverClient)(nil)

// NewFailoverClient creates a failover client over the registry. With no
// explicit providers the registry's registration order is used.
func NewFailoverClient(registry *Registry, log *logging.Logger, providers ...string) *FailoverClient {
	if len(providers) == 0 {
		providers = registry.Order()
	}
	return &FailoverClient{
		registry:  registry,
		providers: providers,
		log:       log.Sub("failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverClient) Name() string {
	if len(f.providers) == 0 {
		return "failover"
	}
	return f.providers[0]
}

// Complete tries each provider, falling back on retryable errors.
func (f *FailoverClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error = errors.New("llm: no providers configured")
	for _, name := range f.providers {
		client, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no client for provider, skipping")
			lastErr = err
			continue
		}

		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() == nil && isRetryable(err) {
			f.log.Warn().Str("provider", name).Err(err).Msg("retryable error, trying next provider")
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// Stream tries each provider for streaming. Failover only happens before
// the stream is established; errors inside the stream surface as events.
func (f *FailoverClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	var lastErr error = errors.New("llm: no providers configured")
	for _, name := range f.providers {
		client, err := f.registry.Resolve(name)
		if err != nil {
			lastErr = err
			continue
		}

		ch, err := client.Stream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if ctx.Err() == nil && isRetryable(err) {
			f.log.Warn().Str("provider", name).Err(err).Msg("retryable stream error, trying next provider")
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 408, 429, 500, 502, 503, 504, 529:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}

package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
)

// EmbeddingCache memoizes embeddings in the KV store. Concurrent misses
// for the same text share one upstream call.
type EmbeddingCache struct {
	store    kv.Store
	embedder llm.Embedder
	model    string
	ttl      time.Duration
	group    singleflight.Group
	log      *logging.Logger
}

// NewEmbeddingCache creates a cache in front of embedder. The model name
// is part of every key so switching models never serves stale vectors.
func NewEmbeddingCache(store kv.Store, embedder llm.Embedder, model string, ttl time.Duration, log *logging.Logger) *EmbeddingCache {
	return &EmbeddingCache{
		store:    store,
		embedder: embedder,
		model:    model,
		ttl:      ttl,
		log:      log.Sub("rag.cache"),
	}
}

// CacheKey returns the KV key for a model/text pair: emb:{model}:{sha256 of text}.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + model + ":" + hex.EncodeToString(sum[:])
}

// modelPattern matches the cache keys of exactly one model. The digest is
// matched as fixed-width hex so a model named "a" never matches "a:b".
func modelPattern(model string) string {
	return "emb:" + kv.QuoteGlob(model) + ":" + strings.Repeat("[0-9a-f]", sha256.Size*2)
}

// Embed returns the cached vector for text, computing and storing it on a
// miss. Cache read and write failures are logged and bypassed.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.model, text)

	if raw, err := c.store.Get(ctx, key); err == nil {
		var vec []float32
		if jerr := json.Unmarshal([]byte(raw), &vec); jerr == nil && len(vec) > 0 {
			return vec, nil
		}
		c.log.Warn().Str("key", key).Msg("discarding corrupt cached embedding")
	} else if !errors.Is(err, kv.ErrNotFound) {
		c.log.Warn().Err(err).Msg("embedding cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		vec, err := c.embedder.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if data, jerr := json.Marshal(vec); jerr == nil {
			if serr := c.store.Set(ctx, key, string(data), c.ttl); serr != nil {
				c.log.Warn().Err(serr).Msg("embedding cache write failed")
			}
		}
		return vec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return v.([]float32), nil
}

// Clear drops every cached embedding of the cache's model and returns the
// number of entries removed.
func (c *EmbeddingCache) Clear(ctx context.Context) (int, error) {
	n, err := c.store.DeletePattern(ctx, modelPattern(c.model))
	if err != nil {
		return 0, fmt.Errorf("clear embedding cache: %w", err)
	}
	c.log.Info().Str("model", c.model).Int("entries", n).Msg("embedding cache cleared")
	return n, nil
}

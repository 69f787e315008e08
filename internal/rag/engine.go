// Package rag chunks, embeds and retrieves documents for grounding agent
// answers.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/shopagent/internal/config"
	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
)

// KV layout.
const (
	KeyChunks  = "rag:chunks"
	KeySources = "rag:sources"
)

// SourceKey is the chunk-id index list of a source.
func SourceKey(sourceID string) string { return "rag:source:" + sourceID }

// DocKey is the document-info hash of a source.
func DocKey(sourceID string) string { return "rag:doc:" + sourceID }

// Options tunes chunking and retrieval.
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	TopK           int
	ScoreThreshold float64
	Concurrency    int
	ListCacheTTL   time.Duration
}

// OptionsFromConfig maps the rag config section to Options.
func OptionsFromConfig(cfg config.RAGConfig) Options {
	return Options{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		Concurrency:    cfg.Concurrency,
		ListCacheTTL:   cfg.ListCacheTTL(),
	}
}

// Query is a similarity search request.
type Query struct {
	Text           string  `json:"query"`
	TopK           int     `json:"topK,omitempty"`
	ScoreThreshold float64 `json:"scoreThreshold,omitempty"`
}

// Result is a ranked chunk without its embedding.
type Result struct {
	ID       string            `json:"id"`
	SourceID string            `json:"sourceId"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Score    float64           `json:"score"`
}

// UpsertResult reports what an Upsert stored.
type UpsertResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Engine indexes documents into the KV store and answers similarity
// queries over every stored chunk.
type Engine struct {
	store    kv.Store
	embedder llm.Embedder
	hooks    *hooks.Manager
	opts     Options
	log      *logging.Logger

	writeMu sync.Mutex // serializes index rewrites

	listMu   sync.Mutex
	listed   []domain.RagChunk
	loadedAt time.Time
	now      func() time.Time
}

// New creates an engine. embedder is usually an *EmbeddingCache.
func New(store kv.Store, embedder llm.Embedder, hm *hooks.Manager, opts Options, log *logging.Logger) (*Engine, error) {
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("rag: chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkSize {
		return nil, fmt.Errorf("rag: chunk overlap %d must be in [0, %d)", opts.ChunkOverlap, opts.ChunkSize)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		hooks:    hm,
		opts:     opts,
		log:      log.Sub("rag"),
		now:      time.Now,
	}, nil
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options { return e.opts }

// DefaultQuery builds a query with the configured topK and threshold.
func (e *Engine) DefaultQuery(text string) Query {
	return Query{Text: text, TopK: e.opts.TopK, ScoreThreshold: e.opts.ScoreThreshold}
}

// Upsert chunks, embeds and stores a document. An existing source with
// the same id is removed first so a source is always rebuilt whole.
func (e *Engine) Upsert(ctx context.Context, doc domain.Document) (*UpsertResult, error) {
	doc.SourceID = strings.TrimSpace(doc.SourceID)
	if doc.SourceID == "" {
		return nil, errors.New("rag: source id is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, errors.New("rag: content is required")
	}

	pieces := Chunk(doc.Content, e.opts.ChunkSize, e.opts.ChunkOverlap)
	vectors, err := e.embedAll(ctx, pieces)
	if err != nil {
		return nil, err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if _, err := e.removeLocked(ctx, doc.SourceID); err != nil {
		return nil, fmt.Errorf("rag: replace source %s: %w", doc.SourceID, err)
	}

	now := e.now().UTC()
	values := make([]string, 0, len(pieces))
	ids := make([]string, 0, len(pieces))
	for i, text := range pieces {
		sum := sha256.Sum256([]byte(text))
		chunk := domain.RagChunk{
			ID:        "chunk_" + uuid.NewString(),
			SourceID:  doc.SourceID,
			Title:     doc.Title,
			Content:   text,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
			Checksum:  hex.EncodeToString(sum[:]),
			CreatedAt: now,
		}
		data, err := json.Marshal(chunk)
		if err != nil {
			return nil, fmt.Errorf("rag: encode chunk: %w", err)
		}
		values = append(values, string(data))
		ids = append(ids, chunk.ID)
	}

	if _, err := e.store.RPush(ctx, KeyChunks, values...); err != nil {
		return nil, fmt.Errorf("rag: store chunks: %w", err)
	}
	if _, err := e.store.RPush(ctx, SourceKey(doc.SourceID), ids...); err != nil {
		return nil, fmt.Errorf("rag: store source index: %w", err)
	}
	if err := e.store.HSet(ctx, DocKey(doc.SourceID), map[string]string{
		"title":      doc.Title,
		"chunks":     strconv.Itoa(len(ids)),
		"updated_at": now.Format(time.RFC3339Nano),
	}); err != nil {
		return nil, fmt.Errorf("rag: store document info: %w", err)
	}
	if err := e.store.ZAdd(ctx, KeySources, doc.SourceID, float64(now.UnixMilli())); err != nil {
		return nil, fmt.Errorf("rag: index source: %w", err)
	}
	e.invalidate()

	e.log.Info().Str("source", doc.SourceID).Int("chunks", len(ids)).Msg("document indexed")
	e.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventDocumentIndexed, map[string]any{
		"sourceId": doc.SourceID,
		"title":    doc.Title,
		"chunks":   len(ids),
	})

	return &UpsertResult{Count: len(ids), IDs: ids}, nil
}

// embedAll embeds pieces with bounded concurrency, preserving order.
func (e *Engine) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	vectors := make([][]float32, len(pieces))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, text := range pieces {
		g.Go(func() error {
			vec, err := e.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("rag: embed chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Search ranks stored chunks by cosine similarity to the query. Chunks
// below the threshold are dropped before the top-k cut; equal scores keep
// insertion order.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	if q.TopK <= 0 {
		q.TopK = e.opts.TopK
	}

	qvec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}

	chunks, err := e.chunks(ctx)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, c := range chunks {
		score := Cosine(qvec, c.Embedding)
		if score < q.ScoreThreshold {
			continue
		}
		results = append(results, Result{
			ID:       c.ID,
			SourceID: c.SourceID,
			Title:    c.Title,
			Content:  c.Content,
			Metadata: c.Metadata,
			Score:    score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	return results, nil
}

// RemoveBySource deletes every chunk of a source and returns how many
// were removed.
func (e *Engine) RemoveBySource(ctx context.Context, sourceID string) (int, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.removeLocked(ctx, sourceID)
}

func (e *Engine) removeLocked(ctx context.Context, sourceID string) (int, error) {
	ids, err := e.store.LRange(ctx, SourceKey(sourceID), 0, -1)
	if err != nil {
		return 0, err
	}

	removed := 0
	if len(ids) > 0 {
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}

		raw, err := e.store.LRange(ctx, KeyChunks, 0, -1)
		if err != nil {
			return 0, err
		}
		keep := make([]string, 0, len(raw))
		for _, r := range raw {
			var c domain.RagChunk
			if err := json.Unmarshal([]byte(r), &c); err == nil && drop[c.ID] {
				removed++
				continue
			}
			keep = append(keep, r)
		}

		if removed > 0 {
			if _, err := e.store.Del(ctx, KeyChunks); err != nil {
				return 0, err
			}
			if len(keep) > 0 {
				if _, err := e.store.RPush(ctx, KeyChunks, keep...); err != nil {
					return 0, err
				}
			}
		}
	}

	if _, err := e.store.Del(ctx, SourceKey(sourceID), DocKey(sourceID)); err != nil {
		return removed, err
	}
	if _, err := e.store.ZRem(ctx, KeySources, sourceID); err != nil {
		return removed, err
	}
	e.invalidate()

	if removed > 0 {
		e.log.Info().Str("source", sourceID).Int("chunks", removed).Msg("source removed")
	}
	return removed, nil
}

// Sources lists indexed sources, most recently updated first.
func (e *Engine) Sources(ctx context.Context) ([]domain.SourceInfo, error) {
	members, err := e.store.ZRevRange(ctx, KeySources, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("rag: list sources: %w", err)
	}

	out := make([]domain.SourceInfo, 0, len(members))
	for _, m := range members {
		info := domain.SourceInfo{SourceID: m.Member}
		fields, err := e.store.HGetAll(ctx, DocKey(m.Member))
		if err != nil {
			return nil, fmt.Errorf("rag: source %s: %w", m.Member, err)
		}
		info.Title = fields["title"]
		info.Chunks, _ = strconv.Atoi(fields["chunks"])
		if ts, err := time.Parse(time.RFC3339Nano, fields["updated_at"]); err == nil {
			info.UpdatedAt = ts
		} else {
			info.UpdatedAt = time.UnixMilli(int64(m.Score)).UTC()
		}
		out = append(out, info)
	}
	return out, nil
}

// chunks returns every stored chunk, served from the listing cache while
// it is fresh.
func (e *Engine) chunks(ctx context.Context) ([]domain.RagChunk, error) {
	e.listMu.Lock()
	defer e.listMu.Unlock()

	if e.listed != nil && e.now().Sub(e.loadedAt) < e.opts.ListCacheTTL {
		return e.listed, nil
	}

	raw, err := e.store.LRange(ctx, KeyChunks, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("rag: load chunks: %w", err)
	}
	chunks := make([]domain.RagChunk, 0, len(raw))
	for _, r := range raw {
		var c domain.RagChunk
		if err := json.Unmarshal([]byte(r), &c); err != nil {
			e.log.Warn().Err(err).Msg("skipping undecodable chunk")
			continue
		}
		chunks = append(chunks, c)
	}

	e.listed = chunks
	e.loadedAt = e.now()
	return chunks, nil
}

func (e *Engine) invalidate() {
	e.listMu.Lock()
	e.listed = nil
	e.listMu.Unlock()
}

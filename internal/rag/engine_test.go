package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/shopagent/internal/domain"
	"github.com/soyeahso/shopagent/internal/hooks"
	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/llm"
	"github.com/soyeahso/shopagent/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// topicEmbedder maps text onto three topic axes by keyword count.
func topicEmbedder(calls *atomic.Int32) *llm.MockClient {
	return &llm.MockClient{EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
		if calls != nil {
			calls.Add(1)
		}
		lower := strings.ToLower(text)
		return []float32{
			float32(strings.Count(lower, "ship")),
			float32(strings.Count(lower, "return")),
			float32(strings.Count(lower, "pay")) + 0.01,
		}, nil
	}}
}

func newEngine(t *testing.T, store kv.Store, emb llm.Embedder, opts Options) *Engine {
	t.Helper()
	if opts.ChunkSize == 0 {
		opts = Options{ChunkSize: 200, ChunkOverlap: 20, TopK: 3, Concurrency: 2}
	}
	e, err := New(store, emb, nil, opts, silentLog())
	require.NoError(t, err)
	return e
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(kv.NewMemory(), topicEmbedder(nil), nil, Options{ChunkSize: 10, ChunkOverlap: 10}, silentLog())
	assert.ErrorContains(t, err, "overlap")

	_, err = New(kv.NewMemory(), topicEmbedder(nil), nil, Options{}, silentLog())
	assert.ErrorContains(t, err, "chunk size")
}

func TestUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := newEngine(t, store, topicEmbedder(nil), Options{})

	res, err := e.Upsert(ctx, domain.Document{SourceID: "faq-shipping", Title: "Shipping", Content: "We ship worldwide. Shipping takes 3-5 days."})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.Len(t, res.IDs, 1)
	assert.True(t, strings.HasPrefix(res.IDs[0], "chunk_"))

	_, err = e.Upsert(ctx, domain.Document{SourceID: "faq-returns", Title: "Returns", Content: "Returns are accepted within 30 days. To return an item, contact us.", Metadata: map[string]string{"lang": "en"}})
	require.NoError(t, err)

	results, err := e.Search(ctx, Query{Text: "how do returns work?", TopK: 5, ScoreThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "faq-returns", results[0].SourceID)
	assert.Equal(t, "en", results[0].Metadata["lang"])
	assert.Greater(t, results[0].Score, 0.9)

	raw, err := store.LRange(ctx, KeyChunks, 0, -1)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	var stored domain.RagChunk
	require.NoError(t, json.Unmarshal([]byte(raw[0]), &stored))
	assert.Len(t, stored.Checksum, 64)
	assert.Len(t, stored.Embedding, 3)
}

func TestSearchOrderingAndTopK(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemory(), topicEmbedder(nil), Options{})

	docs := []domain.Document{
		{SourceID: "a", Content: "ship ship return"},
		{SourceID: "b", Content: "ship"},
		{SourceID: "c", Content: "ship ship return"},
		{SourceID: "d", Content: "pay pay pay"},
	}
	for _, d := range docs {
		_, err := e.Upsert(ctx, d)
		require.NoError(t, err)
	}

	results, err := e.Search(ctx, Query{Text: "ship", TopK: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].SourceID)
	assert.Equal(t, "a", results[1].SourceID) // ties keep insertion order

	results, err = e.Search(ctx, Query{Text: "ship", TopK: 10, ScoreThreshold: 0.5})
	require.NoError(t, err)
	assert.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchEmptyQuerySkipsEmbedder(t *testing.T) {
	var calls atomic.Int32
	e := newEngine(t, kv.NewMemory(), topicEmbedder(&calls), Options{})

	for _, q := range []string{"", "   ", "\n\t"} {
		results, err := e.Search(context.Background(), Query{Text: q})
		require.NoError(t, err)
		assert.Nil(t, results)
	}
	assert.Equal(t, int32(0), calls.Load())
}

func TestUpsertReplacesSource(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := newEngine(t, store, topicEmbedder(nil), Options{ChunkSize: 10, ChunkOverlap: 2, TopK: 3, Concurrency: 3})

	first, err := e.Upsert(ctx, domain.Document{SourceID: "doc", Content: strings.Repeat("shipping! ", 5)})
	require.NoError(t, err)
	require.Greater(t, first.Count, 1)
	_, err = e.Upsert(ctx, domain.Document{SourceID: "other", Content: "returns"})
	require.NoError(t, err)

	second, err := e.Upsert(ctx, domain.Document{SourceID: "doc", Title: "v2", Content: "pay"})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count)

	n, err := store.LLen(ctx, KeyChunks)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ids, err := store.LRange(ctx, SourceKey("doc"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, second.IDs, ids)
}

func TestUpsertPreservesChunkOrder(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	slow := &llm.MockClient{EmbedFunc: func(_ context.Context, text string) ([]float32, error) {
		// earlier chunks finish later
		time.Sleep(time.Duration(10-len(text)%10) * time.Millisecond)
		return []float32{float32(len(text)), 1}, nil
	}}
	e := newEngine(t, store, slow, Options{ChunkSize: 4, ChunkOverlap: 0, TopK: 3, Concurrency: 4})

	_, err := e.Upsert(ctx, domain.Document{SourceID: "s", Content: "aaaabbbbccccdd"})
	require.NoError(t, err)

	raw, err := store.LRange(ctx, KeyChunks, 0, -1)
	require.NoError(t, err)
	var contents []string
	for _, r := range raw {
		var c domain.RagChunk
		require.NoError(t, json.Unmarshal([]byte(r), &c))
		contents = append(contents, c.Content)
		assert.Equal(t, float32(len(c.Content)), c.Embedding[0])
	}
	assert.Equal(t, []string{"aaaa", "bbbb", "cccc", "dd"}, contents)
}

func TestUpsertValidation(t *testing.T) {
	e := newEngine(t, kv.NewMemory(), topicEmbedder(nil), Options{})
	_, err := e.Upsert(context.Background(), domain.Document{Content: "x"})
	assert.Error(t, err)
	_, err = e.Upsert(context.Background(), domain.Document{SourceID: "x", Content: "  "})
	assert.Error(t, err)
}

func TestUpsertEmbedFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	failing := &llm.MockClient{EmbedFunc: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}}
	e := newEngine(t, store, failing, Options{})

	_, err := e.Upsert(ctx, domain.Document{SourceID: "s", Content: "hello"})
	require.ErrorContains(t, err, "embedding service down")

	n, err := store.LLen(ctx, KeyChunks)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemoveBySource(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := newEngine(t, store, topicEmbedder(nil), Options{ChunkSize: 6, ChunkOverlap: 1, TopK: 10, Concurrency: 2})

	a, err := e.Upsert(ctx, domain.Document{SourceID: "a", Content: "shipping policy text"})
	require.NoError(t, err)
	_, err = e.Upsert(ctx, domain.Document{SourceID: "b", Content: "returns"})
	require.NoError(t, err)

	// warm the listing cache so removal has to invalidate it
	before, err := e.Search(ctx, Query{Text: "shipping", TopK: 10})
	require.NoError(t, err)
	require.NotEmpty(t, before)

	removed, err := e.RemoveBySource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a.Count, removed)

	after, err := e.Search(ctx, Query{Text: "shipping", TopK: 10})
	require.NoError(t, err)
	for _, r := range after {
		assert.Equal(t, "b", r.SourceID)
	}

	sources, err := e.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "b", sources[0].SourceID)

	_, err = store.HGet(ctx, DocKey("a"), "title")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	removed, err = e.RemoveBySource(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestSourcesNewestFirst(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, kv.NewMemory(), topicEmbedder(nil), Options{})
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	e.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	for _, id := range []string{"old", "mid", "new"} {
		_, err := e.Upsert(ctx, domain.Document{SourceID: id, Title: strings.ToUpper(id), Content: "ship " + id})
		require.NoError(t, err)
	}

	sources, err := e.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	assert.Equal(t, "new", sources[0].SourceID)
	assert.Equal(t, "NEW", sources[0].Title)
	assert.Equal(t, 1, sources[0].Chunks)
	assert.Equal(t, "old", sources[2].SourceID)
	assert.True(t, sources[0].UpdatedAt.After(sources[2].UpdatedAt))
}

func TestListingCacheTTL(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	e := newEngine(t, store, topicEmbedder(nil), Options{ChunkSize: 100, TopK: 5, Concurrency: 1, ListCacheTTL: time.Minute})
	now := time.Now()
	e.now = func() time.Time { return now }

	_, err := e.Upsert(ctx, domain.Document{SourceID: "a", Content: "ship"})
	require.NoError(t, err)
	first, err := e.chunks(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// a write that bypasses the engine is invisible until the TTL passes
	data, _ := json.Marshal(domain.RagChunk{ID: "chunk_x", SourceID: "x", Content: "ship", Embedding: []float32{1, 0, 0}})
	_, err = store.RPush(ctx, KeyChunks, string(data))
	require.NoError(t, err)

	cached, err := e.chunks(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	now = now.Add(2 * time.Minute)
	fresh, err := e.chunks(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}

func TestUpsertEmitsDocumentIndexed(t *testing.T) {
	hm := hooks.NewManager(silentLog())
	var wg sync.WaitGroup
	wg.Add(1)
	var got map[string]any
	hm.On(hooks.EventDocumentIndexed, "test", func(_ context.Context, p hooks.Payload) error {
		got = p.Data
		wg.Done()
		return nil
	})

	e, err := New(kv.NewMemory(), topicEmbedder(nil), hm, Options{ChunkSize: 50, TopK: 2, Concurrency: 1}, silentLog())
	require.NoError(t, err)
	_, err = e.Upsert(context.Background(), domain.Document{SourceID: "s", Title: "T", Content: "ship"})
	require.NoError(t, err)

	wg.Wait()
	assert.Equal(t, "s", got["sourceId"])
	assert.Equal(t, 1, got["chunks"])
}

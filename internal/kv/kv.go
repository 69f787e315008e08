// Package kv defines the key-value contract used for conversation state,
// summaries, the embedding cache and pending confirmations.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and HGet for missing keys or fields.
	ErrNotFound = errors.New("kv: not found")
	// ErrWrongType is returned when a key holds a different kind of value.
	ErrWrongType = errors.New("kv: operation against a key holding the wrong kind of value")
)

// Kind identifies the type of value held at a key.
type Kind string

const (
	KindString Kind = "string"
	KindList   Kind = "list"
	KindHash   Kind = "hash"
	KindZSet   Kind = "zset"
)

// ZMember is a sorted-set member with its score.
type ZMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Store is a TTL-capable key-value store with string, list, hash and
// sorted-set values. List and rank indices follow Redis conventions:
// negative indices count from the end, stop is inclusive.
// A ttl of zero means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only when it does not exist and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// CompareAndDelete removes a string key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// DeletePattern removes every key matching a glob pattern with the
	// semantics of MatchGlob. Use QuoteGlob for literal pattern parts.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	RPush(ctx context.Context, key string, values ...string) (int, error)
	LRange(ctx context.Context, key string, start, stop int) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int) error
	LLen(ctx context.Context, key string) (int, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) (int, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error)
	// ZRevRange returns members ordered by descending score.
	ZRevRange(ctx context.Context, key string, start, stop int) ([]ZMember, error)
	ZRem(ctx context.Context, key string, members ...string) (int, error)

	Close() error
}

// normalizeRange converts Redis-style inclusive indices into a half-open
// slice range over n elements. ok is false when the range is empty.
func normalizeRange(start, stop, n int) (from, to int, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

// Slice applies Redis-style inclusive indices to a slice.
func Slice[T any](items []T, start, stop int) []T {
	from, to, ok := normalizeRange(start, stop, len(items))
	if !ok {
		return nil
	}
	return items[from:to]
}

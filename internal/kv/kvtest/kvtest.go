// Package kvtest holds the behavior suite every kv.Store implementation runs.
package kvtest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a Store implementation. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	ctx := context.Background()

	t.Run("strings", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		require.NoError(t, s.Set(ctx, "k", "v1", 0))
		v, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v1", v)

		require.NoError(t, s.Set(ctx, "k", "v2", 0))
		v, _ = s.Get(ctx, "k")
		assert.Equal(t, "v2", v)

		n, err := s.Del(ctx, "k", "missing")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = s.Get(ctx, "k")
		assert.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("ttl", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "short", "x", 50*time.Millisecond))
		require.NoError(t, s.Set(ctx, "long", "y", time.Hour))
		_, err := s.RPush(ctx, "list", "a")
		require.NoError(t, err)
		require.NoError(t, s.Expire(ctx, "list", 50*time.Millisecond))

		time.Sleep(120 * time.Millisecond)

		_, err = s.Get(ctx, "short")
		assert.ErrorIs(t, err, kv.ErrNotFound)
		v, err := s.Get(ctx, "long")
		require.NoError(t, err)
		assert.Equal(t, "y", v)
		n, err := s.LLen(ctx, "list")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("setnx and compare-and-delete", func(t *testing.T) {
		s := newStore(t)

		ok, err := s.SetNX(ctx, "lock", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SetNX(ctx, "lock", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		deleted, err := s.CompareAndDelete(ctx, "lock", "b")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.CompareAndDelete(ctx, "lock", "a")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.CompareAndDelete(ctx, "lock", "a")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("lock helper", func(t *testing.T) {
		s := newStore(t)

		l, err := kv.Acquire(ctx, s, "lock:conv:1", time.Minute)
		require.NoError(t, err)

		_, err = kv.Acquire(ctx, s, "lock:conv:1", time.Minute)
		assert.ErrorIs(t, err, kv.ErrLocked)

		require.NoError(t, l.Release(ctx))
		l2, err := kv.Acquire(ctx, s, "lock:conv:1", time.Minute)
		require.NoError(t, err)
		require.NoError(t, l2.Release(ctx))
	})

	t.Run("lists", func(t *testing.T) {
		s := newStore(t)

		n, err := s.RPush(ctx, "l", "a", "b", "c")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		n, err = s.RPush(ctx, "l", "d", "e")
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		all, err := s.LRange(ctx, "l", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, all)

		tail, err := s.LRange(ctx, "l", -2, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"d", "e"}, tail)

		empty, err := s.LRange(ctx, "l", 10, 20)
		require.NoError(t, err)
		assert.Empty(t, empty)

		require.NoError(t, s.LTrim(ctx, "l", -3, -1))
		all, _ = s.LRange(ctx, "l", 0, -1)
		assert.Equal(t, []string{"c", "d", "e"}, all)

		n, err = s.LLen(ctx, "l")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		missing, err := s.LRange(ctx, "nope", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, missing)
	})

	t.Run("hashes", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.HSet(ctx, "h", map[string]string{"title": "FAQ", "chunks": "3"}))
		v, err := s.HGet(ctx, "h", "title")
		require.NoError(t, err)
		assert.Equal(t, "FAQ", v)

		_, err = s.HGet(ctx, "h", "missing")
		assert.ErrorIs(t, err, kv.ErrNotFound)

		n, err := s.HIncrBy(ctx, "h", "turns", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		n, err = s.HIncrBy(ctx, "h", "turns", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(5), n)

		_, err = s.HIncrBy(ctx, "h", "title", 1)
		assert.Error(t, err)

		removed, err := s.HDel(ctx, "h", "chunks", "missing")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		all, err := s.HGetAll(ctx, "h")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"title": "FAQ", "turns": "5"}, all)

		empty, err := s.HGetAll(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("sorted sets", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.ZAdd(ctx, "z", "a", 1))
		require.NoError(t, s.ZAdd(ctx, "z", "b", 5))
		require.NoError(t, s.ZAdd(ctx, "z", "c", 3))

		score, err := s.ZIncrBy(ctx, "z", "a", 10)
		require.NoError(t, err)
		assert.Equal(t, 11.0, score)

		top, err := s.ZRevRange(ctx, "z", 0, 1)
		require.NoError(t, err)
		assert.Equal(t, []kv.ZMember{{Member: "a", Score: 11}, {Member: "b", Score: 5}}, top)

		removed, err := s.ZRem(ctx, "z", "b")
		require.NoError(t, err)
		assert.Equal(t, 1, removed)

		all, err := s.ZRevRange(ctx, "z", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []kv.ZMember{{Member: "a", Score: 11}, {Member: "c", Score: 3}}, all)
	})

	t.Run("wrong type", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "str", "x", 0))
		_, err := s.RPush(ctx, "str", "a")
		assert.ErrorIs(t, err, kv.ErrWrongType)
		_, err = s.HIncrBy(ctx, "str", "f", 1)
		assert.ErrorIs(t, err, kv.ErrWrongType)

		_, err = s.RPush(ctx, "list", "a")
		require.NoError(t, err)
		_, err = s.Get(ctx, "list")
		assert.ErrorIs(t, err, kv.ErrWrongType)
	})

	t.Run("delete pattern", func(t *testing.T) {
		s := newStore(t)

		require.NoError(t, s.Set(ctx, "conv:1:summary", "s", 0))
		_, err := s.RPush(ctx, "conv:1:messages", "m")
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, "conv:2:summary", "s", 0))

		n, err := s.DeletePattern(ctx, "conv:1:*")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		_, err = s.Get(ctx, "conv:2:summary")
		assert.NoError(t, err)
	})

	t.Run("delete pattern glob rules", func(t *testing.T) {
		tests := []struct {
			pattern string
			want    []string
		}{
			{"conv:*", []string{"conv:a/b:x", "conv:ab:x", "conv:a*:x", "conv:A:x"}},
			{"conv:a?:x", []string{"conv:ab:x", "conv:a*:x"}},
			{"conv:[a-z]b:x", []string{"conv:ab:x"}},
			{"conv:[^a]:x", []string{"conv:A:x"}},
			{"conv:a:*", nil},
			{"conv:" + kv.QuoteGlob("a*") + ":*", []string{"conv:a*:x"}},
		}
		keys := []string{"conv:a/b:x", "conv:ab:x", "conv:a*:x", "conv:A:x", "other"}
		for _, tt := range tests {
			t.Run(tt.pattern, func(t *testing.T) {
				s := newStore(t)
				for _, k := range keys {
					require.NoError(t, s.Set(ctx, k, "v", 0))
				}

				n, err := s.DeletePattern(ctx, tt.pattern)
				require.NoError(t, err)
				assert.Equal(t, len(tt.want), n)
				for _, k := range keys {
					_, err := s.Get(ctx, k)
					if slices.Contains(tt.want, k) {
						assert.ErrorIs(t, err, kv.ErrNotFound, k)
					} else {
						assert.NoError(t, err, k)
					}
				}
			})
		}
	})
}

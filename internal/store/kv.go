package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/shopagent/internal/kv"
	"github.com/soyeahso/shopagent/internal/logging"
)

// KV implements kv.Store on the kv_entries table. Lists, hashes and sorted
// sets are stored as JSON documents and rewritten inside a transaction.
type KV struct {
	db  *DB
	log *logging.Logger
	now func() time.Time
}

var _ kv.Store = (*KV)(nil)

// NewKV returns a Store backed by db.
func NewKV(db *DB) *KV {
	return &KV{db: db, log: db.log.Sub("kv"), now: time.Now}
}

type row struct {
	kind    kv.Kind
	value   string
	expires sql.NullInt64
}

func (s *KV) nowMillis() int64 { return s.now().UnixMilli() }

func (s *KV) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
}

func (s *KV) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin kv tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// load reads a live entry. Expired entries are removed and reported missing.
func (s *KV) load(ctx context.Context, tx *sql.Tx, key string) (*row, error) {
	var r row
	var kind string
	err := tx.QueryRowContext(ctx,
		"SELECT kind, value, expires_at FROM kv_entries WHERE key = ?", key,
	).Scan(&kind, &r.value, &r.expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	if r.expires.Valid && r.expires.Int64 <= s.nowMillis() {
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
			return nil, fmt.Errorf("evicting %s: %w", key, err)
		}
		return nil, nil
	}
	r.kind = kv.Kind(kind)
	return &r, nil
}

// loadTyped reads a live entry and checks its kind.
func (s *KV) loadTyped(ctx context.Context, tx *sql.Tx, key string, kind kv.Kind) (*row, error) {
	r, err := s.load(ctx, tx, key)
	if err != nil || r == nil {
		return nil, err
	}
	if r.kind != kind {
		return nil, kv.ErrWrongType
	}
	return r, nil
}

func (s *KV) save(ctx context.Context, tx *sql.Tx, key string, kind kv.Kind, value string, expires sql.NullInt64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO kv_entries (key, kind, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, string(kind), value, expires)
	if err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

func (s *KV) remove(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// saveDoc JSON-encodes a container value, deleting the key when it is empty.
func (s *KV) saveDoc(ctx context.Context, tx *sql.Tx, key string, kind kv.Kind, doc any, empty bool, expires sql.NullInt64) error {
	if empty {
		return s.remove(ctx, tx, key)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return s.save(ctx, tx, key, kind, string(data), expires)
}

func decode[T any](r *row) (T, error) {
	var v T
	if r == nil {
		return v, nil
	}
	if err := json.Unmarshal([]byte(r.value), &v); err != nil {
		return v, fmt.Errorf("decoding %s value: %w", r.kind, err)
	}
	return v, nil
}

func keepExpiry(r *row) sql.NullInt64 {
	if r == nil {
		return sql.NullInt64{}
	}
	return r.expires
}

func (s *KV) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindString)
		if err != nil {
			return err
		}
		if r == nil {
			return kv.ErrNotFound
		}
		out = r.value
		return nil
	})
	return out, err
}

func (s *KV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.save(ctx, tx, key, kv.KindString, value, s.expiry(ttl))
	})
}

func (s *KV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var set bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.load(ctx, tx, key)
		if err != nil || r != nil {
			return err
		}
		set = true
		return s.save(ctx, tx, key, kv.KindString, value, s.expiry(ttl))
	})
	return set, err
}

func (s *KV) Del(ctx context.Context, keys ...string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, key := range keys {
			r, err := s.load(ctx, tx, key)
			if err != nil {
				return err
			}
			if r == nil {
				continue
			}
			if err := s.remove(ctx, tx, key); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

func (s *KV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.load(ctx, tx, key)
		if err != nil || r == nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "UPDATE kv_entries SET expires_at = ? WHERE key = ?", s.expiry(ttl), key)
		return err
	})
}

func (s *KV) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	var deleted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindString)
		if err != nil || r == nil || r.value != expected {
			return err
		}
		deleted = true
		return s.remove(ctx, tx, key)
	})
	return deleted, err
}

// DeletePattern uses SQLite GLOB, the rules kv.MatchGlob reproduces for
// the in-memory store.
func (s *KV) DeletePattern(ctx context.Context, pattern string) (int, error) {
	res, err := s.db.sql.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE key GLOB ? AND (expires_at IS NULL OR expires_at > ?)",
		pattern, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("deleting pattern %s: %w", pattern, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *KV) RPush(ctx context.Context, key string, values ...string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindList)
		if err != nil {
			return err
		}
		list, err := decode[[]string](r)
		if err != nil {
			return err
		}
		list = append(list, values...)
		n = len(list)
		return s.saveDoc(ctx, tx, key, kv.KindList, list, n == 0, keepExpiry(r))
	})
	return n, err
}

func (s *KV) LRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	var out []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindList)
		if err != nil {
			return err
		}
		list, err := decode[[]string](r)
		if err != nil {
			return err
		}
		out = kv.Slice(list, start, stop)
		return nil
	})
	return out, err
}

func (s *KV) LTrim(ctx context.Context, key string, start, stop int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindList)
		if err != nil || r == nil {
			return err
		}
		list, err := decode[[]string](r)
		if err != nil {
			return err
		}
		kept := kv.Slice(list, start, stop)
		return s.saveDoc(ctx, tx, key, kv.KindList, kept, len(kept) == 0, r.expires)
	})
}

func (s *KV) LLen(ctx context.Context, key string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindList)
		if err != nil {
			return err
		}
		list, err := decode[[]string](r)
		n = len(list)
		return err
	})
	return n, err
}

func (s *KV) HGet(ctx context.Context, key, field string) (string, error) {
	var out string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindHash)
		if err != nil {
			return err
		}
		h, err := decode[map[string]string](r)
		if err != nil {
			return err
		}
		v, ok := h[field]
		if !ok {
			return kv.ErrNotFound
		}
		out = v
		return nil
	})
	return out, err
}

func (s *KV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	out := map[string]string{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindHash)
		if err != nil || r == nil {
			return err
		}
		out, err = decode[map[string]string](r)
		return err
	})
	return out, err
}

func (s *KV) HSet(ctx context.Context, key string, fields map[string]string) error {
	return s.updateHash(ctx, key, func(h map[string]string) error {
		for k, v := range fields {
			h[k] = v
		}
		return nil
	})
}

func (s *KV) HDel(ctx context.Context, key string, fields ...string) (int, error) {
	var n int
	err := s.updateHash(ctx, key, func(h map[string]string) error {
		for _, f := range fields {
			if _, ok := h[f]; ok {
				delete(h, f)
				n++
			}
		}
		return nil
	})
	return n, err
}

func (s *KV) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	var n int64
	err := s.updateHash(ctx, key, func(h map[string]string) error {
		next, v, err := kv.IncrCounter(h[field], delta)
		if err != nil {
			return err
		}
		h[field] = next
		n = v
		return nil
	})
	return n, err
}

func (s *KV) updateHash(ctx context.Context, key string, fn func(map[string]string) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindHash)
		if err != nil {
			return err
		}
		h, err := decode[map[string]string](r)
		if err != nil {
			return err
		}
		if h == nil {
			h = map[string]string{}
		}
		if err := fn(h); err != nil {
			return err
		}
		return s.saveDoc(ctx, tx, key, kv.KindHash, h, len(h) == 0, keepExpiry(r))
	})
}

func (s *KV) ZAdd(ctx context.Context, key, member string, score float64) error {
	return s.updateZSet(ctx, key, func(z map[string]float64) {
		z[member] = score
	})
}

func (s *KV) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	var score float64
	err := s.updateZSet(ctx, key, func(z map[string]float64) {
		z[member] += delta
		score = z[member]
	})
	return score, err
}

func (s *KV) ZRem(ctx context.Context, key string, members ...string) (int, error) {
	var n int
	err := s.updateZSet(ctx, key, func(z map[string]float64) {
		for _, m := range members {
			if _, ok := z[m]; ok {
				delete(z, m)
				n++
			}
		}
	})
	return n, err
}

func (s *KV) ZRevRange(ctx context.Context, key string, start, stop int) ([]kv.ZMember, error) {
	var out []kv.ZMember
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindZSet)
		if err != nil || r == nil {
			return err
		}
		z, err := decode[map[string]float64](r)
		if err != nil {
			return err
		}
		out = kv.Slice(kv.RankDesc(z), start, stop)
		return nil
	})
	return out, err
}

func (s *KV) updateZSet(ctx context.Context, key string, fn func(map[string]float64)) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := s.loadTyped(ctx, tx, key, kv.KindZSet)
		if err != nil {
			return err
		}
		z, err := decode[map[string]float64](r)
		if err != nil {
			return err
		}
		if z == nil {
			z = map[string]float64{}
		}
		fn(z)
		return s.saveDoc(ctx, tx, key, kv.KindZSet, z, len(z) == 0, keepExpiry(r))
	})
}

// PurgeExpired deletes every expired entry and returns how many were removed.
func (s *KV) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.sql.ExecContext(ctx,
		"DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?", s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("purging expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// StartSweeper purges expired entries every interval until ctx is done.
func (s *KV) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.PurgeExpired(ctx)
				if err != nil {
					s.log.Warn().Err(err).Msg("sweeping expired keys")
					continue
				}
				if n > 0 {
					s.log.Debug().Int("removed", n).Msg("swept expired keys")
				}
			}
		}
	}()
}

// Close closes the underlying database.
func (s *KV) Close() error { return s.db.Close() }

package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

type entry struct {
	kind    Kind
	str     string
	list    []string
	hash    map[string]string
	zset    map[string]float64
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is an in-process Store. It backs tests and the "memory" store
// driver; state is lost on restart.
type Memory struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]*entry), now: time.Now}
}

// lookup returns the live entry at key, evicting it if expired.
func (m *Memory) lookup(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil
	}
	return e
}

// typed returns the entry at key if it holds kind. With create set, a
// missing key is initialized.
func (m *Memory) typed(key string, kind Kind, create bool) (*entry, error) {
	e := m.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kind}
		switch kind {
		case KindHash:
			e.hash = make(map[string]string)
		case KindZSet:
			e.zset = make(map[string]float64)
		}
		m.data[key] = e
		return e, nil
	}
	if e.kind != kind {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindString, false)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", ErrNotFound
	}
	return e.str, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{kind: KindString, str: value, expires: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.data[key] = &entry{kind: KindString, str: value, expires: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if m.lookup(k) != nil {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(key); e != nil {
		e.expires = m.expiry(ttl)
	}
	return nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindString, false)
	if err != nil || e == nil || e.str != expected {
		return false, err
	}
	delete(m.data, key)
	return true, nil
}

func (m *Memory) DeletePattern(_ context.Context, pattern string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if MatchGlob(pattern, k) {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) RPush(_ context.Context, key string, values ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindList, true)
	if err != nil {
		return 0, err
	}
	e.list = append(e.list, values...)
	return len(e.list), nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindList, false)
	if err != nil || e == nil {
		return nil, err
	}
	out := Slice(e.list, start, stop)
	return append([]string(nil), out...), nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindList, false)
	if err != nil || e == nil {
		return err
	}
	kept := append([]string(nil), Slice(e.list, start, stop)...)
	if len(kept) == 0 {
		delete(m.data, key)
		return nil
	}
	e.list = kept
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindList, false)
	if err != nil || e == nil {
		return 0, err
	}
	return len(e.list), nil
}

func (m *Memory) HGet(_ context.Context, key, field string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindHash, false)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", ErrNotFound
	}
	v, ok := e.hash[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindHash, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if e != nil {
		for k, v := range e.hash {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindHash, true)
	if err != nil {
		return err
	}
	for k, v := range fields {
		e.hash[k] = v
	}
	return nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindHash, false)
	if err != nil || e == nil {
		return 0, err
	}
	n := 0
	for _, f := range fields {
		if _, ok := e.hash[f]; ok {
			delete(e.hash, f)
			n++
		}
	}
	if len(e.hash) == 0 {
		delete(m.data, key)
	}
	return n, nil
}

func (m *Memory) HIncrBy(_ context.Context, key, field string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindHash, true)
	if err != nil {
		return 0, err
	}
	cur, err := parseCounter(e.hash[field])
	if err != nil {
		return 0, err
	}
	cur += delta
	e.hash[field] = formatCounter(cur)
	return cur, nil
}

func (m *Memory) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindZSet, true)
	if err != nil {
		return err
	}
	e.zset[member] = score
	return nil
}

func (m *Memory) ZIncrBy(_ context.Context, key, member string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindZSet, true)
	if err != nil {
		return 0, err
	}
	e.zset[member] += delta
	return e.zset[member], nil
}

func (m *Memory) ZRevRange(_ context.Context, key string, start, stop int) ([]ZMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindZSet, false)
	if err != nil || e == nil {
		return nil, err
	}
	return Slice(RankDesc(e.zset), start, stop), nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.typed(key, KindZSet, false)
	if err != nil || e == nil {
		return 0, err
	}
	n := 0
	for _, mem := range members {
		if _, ok := e.zset[mem]; ok {
			delete(e.zset, mem)
			n++
		}
	}
	if len(e.zset) == 0 {
		delete(m.data, key)
	}
	return n, nil
}

// Close is a no-op for the in-process store.
func (m *Memory) Close() error { return nil }

// RankDesc orders sorted-set members by descending score, breaking ties by
// descending member name as Redis does for ZREVRANGE.
func RankDesc(set map[string]float64) []ZMember {
	out := make([]ZMember, 0, len(set))
	for mem, score := range set {
		out = append(out, ZMember{Member: mem, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member > out[j].Member
	})
	return out
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrLocked is returned by Acquire when another holder owns the lock.
var ErrLocked = errors.New("kv: lock is held")

// Lock is a best-effort mutual exclusion token stored at a single key.
type Lock struct {
	store Store
	key   string
	token string
}

// Acquire takes the lock at key for at most ttl.
func Acquire(ctx context.Context, store Store, key string, ttl time.Duration) (*Lock, error) {
	token := uuid.NewString()
	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{store: store, key: key, token: token}, nil
}

// Release frees the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	return err
}

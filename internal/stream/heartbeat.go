package stream

import (
	"context"
	"sync"
	"time"
)

// WithHeartbeat sends t.Heartbeat every interval until the returned stop
// function is called or ctx ends. stop waits for the ticker goroutine.
func WithHeartbeat(ctx context.Context, t Transport, interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.Heartbeat(); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}
}

package updatecheck

import (
	"context"
	"sync"
	"time"

	"github.com/bolasblack/settingsync/internal/bridge"
)

// DefaultPollInterval is used when no interval is configured.
const DefaultPollInterval = 30 * time.Second

// StartPoller queues a cloud event on every tick until stop is called or ctx
// ends. stop waits for the goroutine to exit.
func StartPoller(ctx context.Context, sink Sink, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				sink.Enqueue(bridge.CloudChange(""))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

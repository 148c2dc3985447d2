package updatecheck

import (
	"context"
	"sync"
	"time"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
)

// resubscribeDelay is the wait before reconnecting a lost subscription.
var resubscribeDelay = 5 * time.Second

// StartSubscriber queues a cloud event for every version the notifier
// reports. A lost subscription is re-established until stop is called.
func StartSubscriber(ctx context.Context, n remote.Notifier, sink Sink, log logger.Logger) (stop func()) {
	if log == nil {
		log = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			versions, err := n.Subscribe(ctx)
			if err != nil {
				log.Warn("subscribe to remote changes failed: " + err.Error())
			} else {
				log.Debug("subscribed to remote changes")
				for v := range versions {
					sink.Enqueue(bridge.CloudChange(v))
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			// Catch up on anything missed while disconnected.
			sink.Enqueue(bridge.CloudChange(""))
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}

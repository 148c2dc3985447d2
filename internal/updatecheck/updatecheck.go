// Package updatecheck notices possible changes on either side and queues
// them for the sync bridge.
package updatecheck

import (
	"context"
	"sync"
	"time"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
)

// Sink receives change events. *bridge.Bridge implements it.
type Sink interface {
	Enqueue(ev bridge.Event)
}

// Options configures a Checker. Zero fields disable the matching source.
type Options struct {
	// PollInterval queues a cloud check periodically.
	PollInterval time.Duration
	// Root is the watched configuration tree.
	Root string
	// Ignore lists directories under Root whose changes are not reported.
	Ignore []string
	// Debounce is the quiet period before a local change is reported.
	Debounce time.Duration
	// Notifier pushes remote versions as they change.
	Notifier remote.Notifier
	Logger   logger.Logger
}

// Checker combines the poller, watcher and subscriber.
type Checker struct {
	sink Sink
	opts Options
	log  logger.Logger

	mu    sync.Mutex
	stops []func()
}

// New creates a checker feeding sink.
func New(sink Sink, opts Options) *Checker {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Checker{sink: sink, opts: opts, log: log}
}

// Start launches every configured source.
func (c *Checker) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.Root != "" {
		w, err := NewWatcher(c.opts.Root, c.sink, WatcherOptions{
			Ignore:   c.opts.Ignore,
			Debounce: c.opts.Debounce,
			Logger:   c.log,
		})
		if err != nil {
			c.stopLocked()
			return err
		}
		if err := w.Start(ctx); err != nil {
			_ = w.Stop()
			c.stopLocked()
			return err
		}
		c.stops = append(c.stops, func() { _ = w.Stop() })
	}
	if c.opts.PollInterval > 0 {
		c.stops = append(c.stops, StartPoller(ctx, c.sink, c.opts.PollInterval))
	}
	if c.opts.Notifier != nil {
		c.stops = append(c.stops, StartSubscriber(ctx, c.opts.Notifier, c.sink, c.log))
	}
	return nil
}

// Stop stops every source and waits for them.
func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Checker) stopLocked() {
	for i := len(c.stops) - 1; i >= 0; i-- {
		c.stops[i]()
	}
	c.stops = nil
}

// CheckNow queues a check of both sides.
func (c *Checker) CheckNow() {
	c.sink.Enqueue(bridge.LocalChange())
	c.sink.Enqueue(bridge.CloudChange(""))
}

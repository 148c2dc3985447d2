// Package bridge reconciles the local settings log with the remote store.
//
// A Bridge owns one worker goroutine that drains a FIFO of change events.
// Each event runs a local cycle (record and push local edits) or a cloud
// cycle (pull, merge, apply, record). Cycles never overlap.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/ide"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
	"github.com/bolasblack/settingsync/internal/state"
)

var (
	ErrAlreadyInitialized = errors.New("sync bridge is already initialized")
	ErrNotInitialized     = errors.New("sync bridge is not initialized")
	ErrStopped            = errors.New("sync bridge is stopped")
)

// State is the lifecycle state of a Bridge.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateIdle
	StateSyncing
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarkerStore persists the sync marker.
type MarkerStore interface {
	LoadMarker() (state.Marker, error)
	SaveMarker(m state.Marker) error
}

// Bridge is the sync engine.
type Bridge struct {
	log       *settingslog.Log
	mediator  ide.Mediator
	remote    remote.Communicator
	markers   MarkerStore
	conflicts *ConflictCache
	registry  *extension.Registry
	clock     clock.Clock
	logger    logger.Logger

	queue *queue

	// cycle serializes reconciliation, Initialize, Resolve and SyncNow.
	cycle  sync.Mutex
	cycles int

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithConflictCache records detected conflicts in c.
func WithConflictCache(c *ConflictCache) Option {
	return func(b *Bridge) { b.conflicts = c }
}

// WithRegistry sets the registry listeners are read from.
func WithRegistry(r *extension.Registry) Option {
	return func(b *Bridge) { b.registry = r }
}

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// New creates a bridge. It does nothing until Initialize is called.
func New(log *settingslog.Log, mediator ide.Mediator, rc remote.Communicator, markers MarkerStore, opts ...Option) *Bridge {
	b := &Bridge{
		log:      log,
		mediator: mediator,
		remote:   rc,
		markers:  markers,
		clock:    clock.RealClock{},
		logger:   logger.NewNop(),
		queue:    newQueue(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateStopped {
		b.state = s
	}
}

// Pending returns the number of queued events.
func (b *Bridge) Pending() int {
	return b.queue.len()
}

// Enqueue adds ev to the queue. It never blocks.
func (b *Bridge) Enqueue(ev Event) {
	b.queue.push(ev)
}

// Start launches the worker. Events queued before Start are processed in
// order once it runs.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.state == StateStopped:
		return ErrStopped
	case b.state == StateUninitialized || b.state == StateInitializing:
		return ErrNotInitialized
	case b.done != nil:
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
	return nil
}

// Stop cancels the worker and waits for it. The cycle in progress finishes
// its current atomic step first.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.state = StateStopped
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (b *Bridge) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		ev, ok := b.queue.pop(ctx)
		if !ok {
			return
		}
		if err := b.handle(ctx, ev); err != nil {
			b.reportError(ev, err)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev Event) error {
	b.cycle.Lock()
	defer b.cycle.Unlock()

	if ctx.Err() != nil {
		return nil
	}
	b.setState(StateSyncing)
	defer b.setState(StateIdle)

	b.cycles++
	b.logger.WithFields(map[string]any{
		"source":  ev.Source.String(),
		"cycle":   b.cycles,
		"version": ev.Version,
	}).Debug("sync cycle started")

	if ev.Source == SourceCloud {
		return b.cloudCycle(ctx, ev)
	}
	return b.localCycle(ctx)
}

func (b *Bridge) reportError(ev Event, err error) {
	log := b.logger.WithField("source", ev.Source.String())
	var ce *ConflictError
	if errors.As(err, &ce) {
		log.Warn(err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		log.Debug("cycle cancelled")
		return
	}
	log.Error("sync cycle failed", err)
	b.notify(Notification{Kind: NotifyFailure, Err: err})
}

func (b *Bridge) notify(n Notification) {
	for _, l := range extension.Extensions(b.registry, ListenerPoint) {
		l.Notify(n)
	}
}

// SyncNow runs a local cycle followed by a cloud cycle.
func (b *Bridge) SyncNow(ctx context.Context) error {
	if err := b.requireReady(); err != nil {
		return err
	}
	b.cycle.Lock()
	defer b.cycle.Unlock()

	b.setState(StateSyncing)
	defer b.setState(StateIdle)

	if err := b.localCycle(ctx); err != nil {
		return err
	}
	return b.cloudCycle(ctx, CloudChange(""))
}

func (b *Bridge) requireReady() error {
	switch b.State() {
	case StateUninitialized, StateInitializing:
		return ErrNotInitialized
	case StateStopped:
		return ErrStopped
	}
	return nil
}

// markerSnapshot returns the marker and the snapshot of its entry. The
// snapshot is empty for a zero marker.
func (b *Bridge) markerSnapshot(ctx context.Context) (state.Marker, *snapshot.Snapshot, error) {
	m, err := b.markers.LoadMarker()
	if err != nil {
		return state.Marker{}, nil, fmt.Errorf("failed to load sync marker: %w", err)
	}
	if m.EntryID == "" {
		return m, snapshot.Empty(), nil
	}
	snap, err := b.log.Snapshot(ctx, m.EntryID)
	if err != nil {
		return state.Marker{}, nil, err
	}
	return m, snap, nil
}

func (b *Bridge) saveMarker(entry settingslog.Entry, version string) error {
	if err := b.markers.SaveMarker(state.Marker{EntryID: entry.ID, RemoteVersion: version}); err != nil {
		return fmt.Errorf("failed to save sync marker: %w", err)
	}
	return nil
}

package bridge

import (
	"context"
	"sync"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// Source says where a change was observed.
type Source int

const (
	SourceLocal Source = iota
	SourceCloud
)

func (s Source) String() string {
	if s == SourceCloud {
		return "cloud"
	}
	return "local"
}

// Event asks the bridge to run a reconciliation cycle.
type Event struct {
	Source Source
	// Snapshot and Version are set when a cloud notification carried the
	// remote content, in which case no pull is needed.
	Snapshot *snapshot.Snapshot
	Version  string
}

// LocalChange returns an event for a change of the host configuration.
func LocalChange() Event { return Event{Source: SourceLocal} }

// CloudChange returns an event for a possible remote change.
func CloudChange(version string) Event { return Event{Source: SourceCloud, Version: version} }

// queue is an unbounded FIFO. Push never blocks and never drops.
type queue struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

func (q *queue) push(ev Event) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until an event is available or ctx is done.
func (q *queue) pop(ctx context.Context) (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, false
		case <-q.signal:
		}
	}
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

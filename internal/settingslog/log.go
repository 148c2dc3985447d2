// Package settingslog keeps the append-only local history of configuration
// snapshots.
//
// Every mutation of the host configuration, local or remote, is recorded as
// an Entry. The head entry always describes the current host configuration
// once a mutation completes.
package settingslog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/ide"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

// ErrNotFound is returned when an entry or path does not exist.
var ErrNotFound = errors.New("not found")

// Backend stores entries and their snapshots.
type Backend interface {
	// Init prepares storage. It is idempotent.
	Init(ctx context.Context) error
	// Head returns the ID of the newest entry, or "" when empty.
	Head(ctx context.Context) (string, error)
	// Append stores e (whose ID is ignored) with snap and makes it the head.
	Append(ctx context.Context, e Entry, snap *snapshot.Snapshot) (string, error)
	// Entry returns the metadata of id.
	Entry(ctx context.Context, id string) (Entry, error)
	// Snapshot returns the full snapshot recorded by id.
	Snapshot(ctx context.Context, id string) (*snapshot.Snapshot, error)
	// Content returns one file recorded by id.
	Content(ctx context.Context, id, path string) ([]byte, error)
}

// Log is the snapshot store. Appends are serialized.
type Log struct {
	backend  Backend
	mediator ide.Mediator
	clock    clock.Clock
	log      logger.Logger
	mu       sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock sets the clock used to stamp entries.
func WithClock(c clock.Clock) Option {
	return func(l *Log) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *Log) { l.log = lg }
}

// New creates a Log over backend reading the host state through mediator.
func New(backend Backend, mediator ide.Mediator, opts ...Option) *Log {
	l := &Log{
		backend:  backend,
		mediator: mediator,
		clock:    clock.RealClock{},
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Initialize prepares storage and writes the empty initial entry if the log
// has none. It is idempotent.
func (l *Log) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.backend.Init(ctx); err != nil {
		return storageErr("init", err)
	}
	head, err := l.backend.Head(ctx)
	if err != nil {
		return storageErr("read head", err)
	}
	if head != "" {
		return nil
	}
	_, err = l.appendLocked(ctx, snapshot.Empty(), KindInitial, "")
	return err
}

// LogExistingSettings records the host configuration if it differs from the
// head. The first such entry after Initialize is an initial copy; later ones
// record changes made while the engine was not running.
func (l *Log) LogExistingSettings(ctx context.Context) (Entry, bool, error) {
	return l.logCurrent(ctx, "")
}

// LogChanges records the host configuration under kind if it differs from
// the head.
func (l *Log) LogChanges(ctx context.Context, kind Kind) (Entry, bool, error) {
	return l.logCurrent(ctx, kind)
}

func (l *Log) logCurrent(ctx context.Context, kind Kind) (Entry, bool, error) {
	current, err := l.mediator.CurrentFiles(ctx)
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read current settings: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	head, headSnap, err := l.headLocked(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	if head.IsZero() {
		return Entry{}, false, storageErr("append", errors.New("log is not initialized"))
	}
	current = ide.Carry(l.mediator, headSnap, current)
	if headSnap.Equal(current) {
		return head, false, nil
	}

	if kind == "" {
		kind = KindSessionChange
		if head.Kind == KindInitial && head.Parent == "" {
			kind = KindInitialCopy
		}
	}

	e, err := l.appendLocked(ctx, current, kind, "")
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// LogSnapshot appends snap unconditionally.
func (l *Log) LogSnapshot(ctx context.Context, snap *snapshot.Snapshot, kind Kind, message string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(ctx, snap, kind, message)
}

func (l *Log) appendLocked(ctx context.Context, snap *snapshot.Snapshot, kind Kind, message string) (Entry, error) {
	if !kind.Valid() {
		return Entry{}, storageErr("append", fmt.Errorf("unknown entry kind %q", kind))
	}
	if message == "" {
		message = kind.DefaultMessage()
	}
	parent, err := l.backend.Head(ctx)
	if err != nil {
		return Entry{}, storageErr("read head", err)
	}

	e := Entry{
		Parent:    parent,
		Kind:      kind,
		Message:   message,
		Timestamp: l.clock.Now().UTC().Truncate(time.Second),
	}
	id, err := l.backend.Append(ctx, e, snap)
	if err != nil {
		return Entry{}, storageErr("append", err)
	}
	e.ID = id

	l.log.WithFields(map[string]any{
		"entry": e.Short(),
		"kind":  string(kind),
		"files": snap.Len(),
	}).Debug("appended log entry")
	return e, nil
}

// Head returns the newest entry and its snapshot. Both are zero when the log
// is empty.
func (l *Log) Head(ctx context.Context) (Entry, *snapshot.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.headLocked(ctx)
}

func (l *Log) headLocked(ctx context.Context) (Entry, *snapshot.Snapshot, error) {
	id, err := l.backend.Head(ctx)
	if err != nil {
		return Entry{}, nil, storageErr("read head", err)
	}
	if id == "" {
		return Entry{}, snapshot.Empty(), nil
	}
	e, err := l.backend.Entry(ctx, id)
	if err != nil {
		return Entry{}, nil, storageErr("read entry", err)
	}
	snap, err := l.backend.Snapshot(ctx, id)
	if err != nil {
		return Entry{}, nil, storageErr("read snapshot", err)
	}
	return e, snap, nil
}

// Entry returns the metadata of id.
func (l *Log) Entry(ctx context.Context, id string) (Entry, error) {
	e, err := l.backend.Entry(ctx, id)
	return e, storageErr("read entry", err)
}

// Entries returns all entries, oldest first.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.backend.Head(ctx)
	if err != nil {
		return nil, storageErr("read head", err)
	}
	var entries []Entry
	for id != "" {
		e, err := l.backend.Entry(ctx, id)
		if err != nil {
			return nil, storageErr("read entry", err)
		}
		entries = append(entries, e)
		id = e.Parent
	}
	slices.Reverse(entries)
	return entries, nil
}

// Snapshot returns the snapshot recorded by id.
func (l *Log) Snapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	snap, err := l.backend.Snapshot(ctx, id)
	if err != nil {
		return nil, storageErr("read snapshot", err)
	}
	return snap, nil
}

// Content returns one file as recorded by id.
func (l *Log) Content(ctx context.Context, id, path string) ([]byte, error) {
	b, err := l.backend.Content(ctx, id, snapshot.CleanPath(path))
	if err != nil {
		return nil, storageErr("read content", err)
	}
	return b, nil
}

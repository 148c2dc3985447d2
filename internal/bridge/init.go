package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

type initKind int

const (
	initJust initKind = iota
	initPush
	initTake
)

// InitMode selects how Initialize brings the installation in line with the
// remote.
type InitMode struct {
	kind     initKind
	snapshot *snapshot.Snapshot
	version  string
}

// JustInit records the existing settings without touching the network.
func JustInit() InitMode { return InitMode{kind: initJust} }

// PushToServer records the existing settings and overwrites the remote.
func PushToServer() InitMode { return InitMode{kind: initPush} }

// TakeFromServer records the existing settings, then replaces them with snap
// which the remote holds at version.
func TakeFromServer(snap *snapshot.Snapshot, version string) InitMode {
	return InitMode{kind: initTake, snapshot: snap, version: version}
}

func (m InitMode) String() string {
	switch m.kind {
	case initPush:
		return "push-to-server"
	case initTake:
		return "take-from-server"
	default:
		return "just-init"
	}
}

// Initialize prepares the log and performs the mode's first sync. It may be
// called once per Bridge.
func (b *Bridge) Initialize(ctx context.Context, mode InitMode) error {
	b.mu.Lock()
	switch b.state {
	case StateUninitialized:
		b.state = StateInitializing
	case StateStopped:
		b.mu.Unlock()
		return ErrStopped
	default:
		b.mu.Unlock()
		return ErrAlreadyInitialized
	}
	b.mu.Unlock()

	b.cycle.Lock()
	defer b.cycle.Unlock()

	if err := b.initialize(ctx, mode); err != nil {
		b.mu.Lock()
		if b.state == StateInitializing {
			b.state = StateUninitialized
		}
		b.mu.Unlock()
		return err
	}
	b.setState(StateIdle)
	b.logger.WithField("mode", mode.String()).Info("sync bridge initialized")
	return nil
}

func (b *Bridge) initialize(ctx context.Context, mode InitMode) error {
	wctx := context.WithoutCancel(ctx)
	if err := b.log.Initialize(wctx); err != nil {
		return err
	}
	if _, _, err := b.log.LogExistingSettings(wctx); err != nil {
		return err
	}

	switch mode.kind {
	case initPush:
		return b.pushHead(ctx, remote.PushOptions{Force: true})
	case initTake:
		return b.take(ctx, mode.snapshot, mode.version)
	default:
		head, _, err := b.log.Head(ctx)
		if err != nil {
			return err
		}
		m, err := b.markers.LoadMarker()
		if err != nil {
			return fmt.Errorf("failed to load sync marker: %w", err)
		}
		if m.EntryID != head.ID {
			b.Enqueue(LocalChange())
		}
		return nil
	}
}

func (b *Bridge) pushHead(ctx context.Context, opts remote.PushOptions) error {
	head, snap, err := b.log.Head(ctx)
	if err != nil {
		return err
	}
	res, err := b.remote.Push(ctx, snap, opts)
	if err != nil {
		return err
	}
	if err := b.saveMarker(head, res.Version); err != nil {
		return err
	}
	b.notify(Notification{Kind: NotifyPushed, Entry: head, Version: res.Version})
	return nil
}

func (b *Bridge) take(ctx context.Context, snap *snapshot.Snapshot, version string) error {
	if snap == nil {
		return errors.New("take from server: no remote snapshot")
	}
	_, headSnap, err := b.log.Head(ctx)
	if err != nil {
		return err
	}
	entry, err := b.applyAndLog(ctx, headSnap, snap, settingslog.KindAppliedFromCloud)
	if err != nil {
		return err
	}
	if err := b.saveMarker(entry, version); err != nil {
		return err
	}
	b.notify(Notification{Kind: NotifyApplied, Entry: entry, Version: version})
	return nil
}

// applyAndLog moves the host from expected to snap and records snap. Nothing
// is recorded if the apply fails. Cancellation of ctx does not interrupt the
// pair.
func (b *Bridge) applyAndLog(ctx context.Context, expected, snap *snapshot.Snapshot, kind settingslog.Kind) (settingslog.Entry, error) {
	wctx := context.WithoutCancel(ctx)
	if err := b.mediator.Apply(wctx, expected, snap); err != nil {
		return settingslog.Entry{}, fmt.Errorf("failed to apply settings: %w", err)
	}
	return b.log.LogSnapshot(wctx, snap, kind, "")
}

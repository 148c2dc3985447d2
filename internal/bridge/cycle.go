package bridge

import (
	"context"
	"errors"

	"github.com/bolasblack/settingsync/internal/ide"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

// maxPushAttempts bounds merge-and-push retries when other writers keep
// moving the remote.
const maxPushAttempts = 3

// maxApplyAttempts bounds how often a cycle starts over because the host
// configuration changed while it was being merged.
const maxApplyAttempts = 3

// localCycle records host changes and pushes the head if the remote has not
// seen it.
func (b *Bridge) localCycle(ctx context.Context) error {
	if _, _, err := b.log.LogChanges(context.WithoutCancel(ctx), settingslog.KindLocalChange); err != nil {
		return err
	}
	head, headSnap, err := b.log.Head(ctx)
	if err != nil {
		return err
	}
	marker, err := b.markers.LoadMarker()
	if err != nil {
		return err
	}
	if marker.EntryID == head.ID {
		return nil
	}

	res, err := b.remote.Push(ctx, headSnap, remote.PushOptions{ExpectedVersion: marker.RemoteVersion})
	if errors.Is(err, remote.ErrRejected) {
		b.logger.Debug("push rejected, merging with remote")
		return b.cloudCycle(ctx, CloudChange(""))
	}
	if err != nil {
		return err
	}
	if err := b.saveMarker(head, res.Version); err != nil {
		return err
	}
	b.logger.WithFields(map[string]any{
		"entry":   head.Short(),
		"version": res.Version,
	}).Info("pushed local settings")
	b.notify(Notification{Kind: NotifyPushed, Entry: head, Version: res.Version})
	return nil
}

// cloudCycle brings remote changes into the host configuration. A host edit
// made while merging makes the apply fail untouched; the cycle then records
// the edit and merges again.
func (b *Bridge) cloudCycle(ctx context.Context, ev Event) error {
	var err error
	for range maxApplyAttempts {
		err = b.reconcile(ctx, ev, nil, maxPushAttempts)
		if !errors.Is(err, ide.ErrHostChanged) {
			return err
		}
		b.logger.Debug("settings changed during apply, merging again")
	}
	return err
}

// reconcile merges the remote state into the head. base overrides the
// marker snapshot as the merge base when set.
func (b *Bridge) reconcile(ctx context.Context, ev Event, base *snapshot.Snapshot, attempts int) error {
	marker, markerSnap, err := b.markerSnapshot(ctx)
	if err != nil {
		return err
	}
	if base == nil {
		base = markerSnap
	}

	remoteSnap, version := ev.Snapshot, ev.Version
	if remoteSnap == nil {
		if version != "" && version == marker.RemoteVersion {
			return nil
		}
		res, err := b.remote.Pull(ctx, marker.RemoteVersion)
		if err != nil {
			return err
		}
		if res.NoChange {
			return nil
		}
		if res.Snapshot == nil {
			// The remote was emptied; republish what we have.
			if _, _, err := b.log.LogChanges(context.WithoutCancel(ctx), settingslog.KindLocalChange); err != nil {
				return err
			}
			return b.pushHead(ctx, remote.PushOptions{})
		}
		remoteSnap, version = res.Snapshot, res.Version
	} else if version == marker.RemoteVersion {
		return nil
	}

	if _, _, err := b.log.LogChanges(context.WithoutCancel(ctx), settingslog.KindLocalChange); err != nil {
		return err
	}
	head, headSnap, err := b.log.Head(ctx)
	if err != nil {
		return err
	}

	merged := snapshot.Merge(base, headSnap, remoteSnap)
	if len(merged.Conflicts) > 0 {
		return b.recordConflicts(merged.Conflicts, version)
	}
	b.clearConflicts()
	return b.settle(ctx, head, headSnap, merged.Snapshot, remoteSnap, version, settingslog.KindAppliedFromCloud, attempts)
}

// settle applies result if it differs from the head and pushes it if it
// differs from the remote. The marker moves only after both succeed.
func (b *Bridge) settle(ctx context.Context, head settingslog.Entry, headSnap, result, remoteSnap *snapshot.Snapshot, version string, kind settingslog.Kind, attempts int) error {
	entry := head
	if !result.Equal(headSnap) {
		var err error
		entry, err = b.applyAndLog(ctx, headSnap, result, kind)
		if err != nil {
			return err
		}
		b.logger.WithFields(map[string]any{
			"entry":   entry.Short(),
			"version": version,
		}).Info("applied settings from server")
		b.notify(Notification{Kind: NotifyApplied, Entry: entry, Version: version})
	}

	if result.Equal(remoteSnap) {
		return b.saveMarker(entry, version)
	}

	res, err := b.remote.Push(ctx, result, remote.PushOptions{ExpectedVersion: version})
	if errors.Is(err, remote.ErrRejected) && attempts > 1 {
		// What was just merged is the base for the next round.
		return b.reconcile(ctx, CloudChange(""), remoteSnap, attempts-1)
	}
	if err != nil {
		return err
	}
	if err := b.saveMarker(entry, res.Version); err != nil {
		return err
	}
	b.logger.WithFields(map[string]any{
		"entry":   entry.Short(),
		"version": res.Version,
	}).Info("pushed merged settings")
	b.notify(Notification{Kind: NotifyPushed, Entry: entry, Version: res.Version})
	return nil
}

func (b *Bridge) recordConflicts(conflicts []snapshot.Conflict, version string) error {
	if b.conflicts != nil {
		if err := b.conflicts.Write(newCacheData(conflicts, version, b.clock.Now())); err != nil {
			b.logger.Error("failed to record conflicts", err)
		}
	}
	b.notify(Notification{Kind: NotifyConflict, Version: version, Conflicts: conflicts})
	return &ConflictError{Conflicts: conflicts, RemoteVersion: version}
}

func (b *Bridge) clearConflicts() {
	if b.conflicts == nil {
		return
	}
	if err := b.conflicts.Clear(); err != nil {
		b.logger.Error("failed to clear conflicts", err)
	}
}

// Package remote talks to the shared settings store.
//
// A Communicator pushes and pulls whole snapshots. Versions are opaque
// strings assigned by the store; pushes carry the version the caller last
// saw so that concurrent writers are detected instead of overwritten.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// ErrRejected is returned when a push's expected version no longer matches
// the remote.
var ErrRejected = errors.New("remote has changed since last sync")

// PushOptions controls a push.
type PushOptions struct {
	// ExpectedVersion is the version the caller believes is current. An empty
	// value means the remote must be empty.
	ExpectedVersion string
	// Force skips the version check.
	Force bool
}

// PushResult describes a completed push.
type PushResult struct {
	Version string
	// Unchanged is set when the remote already held identical content.
	Unchanged bool
}

// PullResult describes a completed pull.
type PullResult struct {
	// Snapshot is nil when the remote is empty or NoChange is set.
	Snapshot *snapshot.Snapshot
	Version  string
	// NoChange is set when the remote version equals the known version.
	NoChange bool
}

// Communicator is the remote settings store.
type Communicator interface {
	Push(ctx context.Context, snap *snapshot.Snapshot, opts PushOptions) (PushResult, error)
	Pull(ctx context.Context, knownVersion string) (PullResult, error)
}

// Notifier delivers remote versions as they change. The channel is closed
// when ctx ends or the subscription is lost.
type Notifier interface {
	Subscribe(ctx context.Context) (<-chan string, error)
}

// RemoteError reports a failed remote operation.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

func remoteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return err
	}
	return &RemoteError{Op: op, Err: err}
}

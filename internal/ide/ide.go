// Package ide abstracts the host whose configuration files are synchronized.
package ide

import (
	"context"
	"errors"
	"fmt"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// ErrHostChanged is returned by Apply when the host configuration no longer
// matches the state the caller read. Nothing has been written; read again
// and retry.
var ErrHostChanged = errors.New("host configuration changed")

// Mediator reads and writes the host's configuration state.
type Mediator interface {
	// CurrentFiles returns the host's current tracked configuration files.
	CurrentFiles(ctx context.Context) (*snapshot.Snapshot, error)
	// Tracks reports whether path is part of the host configuration. Other
	// paths are never read or written by the mediator.
	Tracks(path string) bool
	// Apply changes the host configuration from expected to snap, writing
	// only tracked paths that differ. It is all-or-nothing: on error, the
	// host configuration is unchanged. If the tracked files no longer equal
	// expected, Apply fails with ErrHostChanged.
	Apply(ctx context.Context, expected, snap *snapshot.Snapshot) error
}

// ApplyError reports a failed Apply.
type ApplyError struct {
	Path string
	Err  error
}

func (e *ApplyError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("apply settings: %v", e.Err)
	}
	return fmt.Sprintf("apply settings to %s: %v", e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// Visible returns the files of snap that m tracks.
func Visible(m Mediator, snap *snapshot.Snapshot) *snapshot.Snapshot {
	var kept []snapshot.FileState
	for _, f := range snap.Files() {
		if m.Tracks(f.Path) {
			kept = append(kept, f)
		}
	}
	return snapshot.New(kept...)
}

// Carry returns current plus the files of recorded that m does not track.
// Paths another installation syncs but this host filters out stay in the
// history instead of reading as deletions.
func Carry(m Mediator, recorded, current *snapshot.Snapshot) *snapshot.Snapshot {
	var hidden []snapshot.FileState
	for _, f := range recorded.Files() {
		if !m.Tracks(f.Path) {
			hidden = append(hidden, f)
		}
	}
	if len(hidden) == 0 {
		return current
	}
	return current.With(hidden...)
}

// pendingChanges checks that current equals the visible part of expected and
// returns the tracked changes from expected to snap.
func pendingChanges(m Mediator, current, expected, snap *snapshot.Snapshot) ([]snapshot.Change, error) {
	if !current.Equal(Visible(m, expected)) {
		return nil, &ApplyError{Err: ErrHostChanged}
	}
	var changes []snapshot.Change
	for _, c := range snapshot.Diff(expected, snap) {
		if m.Tracks(c.Path) {
			changes = append(changes, c)
		}
	}
	return changes, nil
}

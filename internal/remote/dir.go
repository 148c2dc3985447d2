package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

// dirSnapshotFile holds the encoded document. Its content hash is the version,
// so one rename publishes content and version together.
const dirSnapshotFile = "snapshot.json"

// Identity describes the pushing installation.
type Identity struct {
	InstallationID string
	Clock          clock.Clock
}

func (id Identity) now() clock.Clock {
	if id.Clock == nil {
		return clock.RealClock{}
	}
	return id.Clock
}

// DirRemote stores the remote document in a directory, typically a shared or
// synced folder. Writes within one process are serialized.
type DirRemote struct {
	fs       afero.Fs
	dir      string
	identity Identity
	mu       sync.Mutex
}

// NewDirRemote creates a remote rooted at dir on fs.
func NewDirRemote(fs afero.Fs, dir string, identity Identity) *DirRemote {
	return &DirRemote{fs: fs, dir: dir, identity: identity}
}

// Current returns the encoded document and its version. Both are empty when
// nothing was pushed yet.
func (r *DirRemote) Current(_ context.Context) ([]byte, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *DirRemote) currentLocked() ([]byte, string, error) {
	data, err := afero.ReadFile(r.fs, filepath.Join(r.dir, dirSnapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, VersionOf(data), nil
}

func (r *DirRemote) Push(ctx context.Context, snap *snapshot.Snapshot, opts PushOptions) (PushResult, error) {
	doc := NewDocument(snap, r.identity.InstallationID, r.identity.now().Now())
	return r.PushDocument(ctx, doc, opts)
}

// PushDocument stores doc as the new remote state.
func (r *DirRemote) PushDocument(ctx context.Context, doc Document, opts PushOptions) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, remoteErr("push", err)
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	data, current, err := r.currentLocked()
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}

	if current != "" {
		existing, err := Decode(data)
		if err != nil {
			return PushResult{}, remoteErr("push", err)
		}
		existingSnap, err := existing.Snapshot()
		if err != nil {
			return PushResult{}, remoteErr("push", err)
		}
		if existingSnap.Equal(snap) {
			return PushResult{Version: current, Unchanged: true}, nil
		}
	}

	if !opts.Force && opts.ExpectedVersion != current {
		return PushResult{}, remoteErr("push", fmt.Errorf("%w (expected %q, found %q)", ErrRejected, opts.ExpectedVersion, current))
	}

	encoded, err := Encode(doc)
	if err != nil {
		return PushResult{}, remoteErr("push", err)
	}

	if err := r.writeAtomic(dirSnapshotFile, encoded); err != nil {
		return PushResult{}, remoteErr("push", err)
	}
	return PushResult{Version: VersionOf(encoded)}, nil
}

func (r *DirRemote) Pull(ctx context.Context, knownVersion string) (PullResult, error) {
	if err := ctx.Err(); err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	data, version, err := r.Current(ctx)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	if version == knownVersion {
		return PullResult{Version: version, NoChange: true}, nil
	}
	if version == "" {
		return PullResult{}, nil
	}

	doc, err := Decode(data)
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return PullResult{}, remoteErr("pull", err)
	}
	return PullResult{Snapshot: snap, Version: version}, nil
}

func (r *DirRemote) writeAtomic(name string, data []byte) error {
	if err := r.fs.MkdirAll(r.dir, 0755); err != nil {
		return err
	}
	final := filepath.Join(r.dir, name)
	tmp := final + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(r.fs, tmp, data, 0644); err != nil {
		_ = r.fs.Remove(tmp)
		return err
	}
	if err := r.fs.Rename(tmp, final); err != nil {
		_ = r.fs.Remove(tmp)
		return err
	}
	return nil
}

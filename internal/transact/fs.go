// Package transact stages file changes in memory and applies them to a real
// filesystem as one unit.
//
// Writes and removals go to an in-memory overlay. Diff compares the overlay
// with the actual filesystem and Commit hands the resulting operations to a
// callback, typically ExecuteOps, which rolls back on failure.
package transact

import (
	"os"
	"slices"
	"sync"

	"github.com/spf13/afero"
)

// CommitContext contains all information needed for commit callback.
type CommitContext struct {
	// BaseFs is the actual filesystem to write to.
	BaseFs afero.Fs
	// Ops is the list of operations to perform.
	Ops []FileOp
}

// CommitResult is the result returned by Commit.
type CommitResult struct {
	// Ops are the operations that were handed to the callback.
	Ops []FileOp
}

// CommitFunc is the callback type for Commit.
type CommitFunc func(ctx CommitContext) error

// TransactFs wraps a staged (in-memory) filesystem with the actual filesystem.
//
// Semantics:
//   - WriteFile/Remove stage changes in memory
//   - ReadFile reads from staged first, then actual
//   - Diff compares staged vs actual
//   - Commit applies staged changes via callback, then resets staged
type TransactFs struct {
	staged       afero.Fs
	actual       afero.Fs
	paths        []string
	deletedPaths []string
	mu           sync.RWMutex
}

// Option configures a TransactFs.
type Option func(*TransactFs)

// WithActualFs sets the actual filesystem (default: OsFs).
func WithActualFs(fs afero.Fs) Option {
	return func(t *TransactFs) {
		t.actual = fs
	}
}

// New creates a new TransactFs with default OsFs for the actual filesystem.
func New(opts ...Option) *TransactFs {
	t := &TransactFs{
		staged: afero.NewMemMapFs(),
		actual: afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WriteFile stages a file write in memory.
func (t *TransactFs) WriteFile(path string, content []byte, perm os.FileMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.deletedPaths = slices.DeleteFunc(t.deletedPaths, func(p string) bool {
		return p == path
	})

	if err := t.staged.MkdirAll(parentDir(path), 0755); err != nil {
		return err
	}
	if err := afero.WriteFile(t.staged, path, content, perm); err != nil {
		return err
	}
	if !slices.Contains(t.paths, path) {
		t.paths = append(t.paths, path)
	}
	return nil
}

// Remove stages a deletion. Removing a path that exists nowhere is an error.
func (t *TransactFs) Remove(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, stagedErr := t.staged.Stat(path)
	_, actualErr := t.actual.Stat(path)
	if stagedErr != nil && (actualErr != nil || slices.Contains(t.deletedPaths, path)) {
		return &os.PathError{Op: "remove", Path: path, Err: os.ErrNotExist}
	}

	if stagedErr == nil {
		if err := t.staged.Remove(path); err != nil {
			return err
		}
	}
	t.paths = slices.DeleteFunc(t.paths, func(p string) bool {
		return p == path
	})
	if actualErr == nil && !slices.Contains(t.deletedPaths, path) {
		t.deletedPaths = append(t.deletedPaths, path)
	}
	return nil
}

// ReadFile reads from the overlay (staged first, then actual).
func (t *TransactFs) ReadFile(path string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if slices.Contains(t.deletedPaths, path) {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
	if content, err := afero.ReadFile(t.staged, path); err == nil {
		return content, nil
	}
	return afero.ReadFile(t.actual, path)
}

// NeedsCommit returns true if there are pending changes to commit.
func (t *TransactFs) NeedsCommit() bool {
	ops, err := t.Diff()
	if err != nil {
		return true // Assume changes on error
	}
	return len(ops) > 0
}

// Diff returns the pending operations needed to sync staged to actual.
func (t *TransactFs) Diff() ([]FileOp, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ComputeDiff(t.staged, t.actual, t.paths, t.deletedPaths)
}

// Commit applies all pending changes via the provided callback.
// On success, staged is reset and tracked paths cleared.
// On failure, staged is preserved for retry.
func (t *TransactFs) Commit(fn CommitFunc) (*CommitResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ops, err := ComputeDiff(t.staged, t.actual, t.paths, t.deletedPaths)
	if err != nil {
		return nil, err
	}

	if err := fn(CommitContext{BaseFs: t.actual, Ops: ops}); err != nil {
		return nil, err
	}

	t.staged = afero.NewMemMapFs()
	t.paths = nil
	t.deletedPaths = nil

	return &CommitResult{Ops: ops}, nil
}

// parentDir returns the parent directory of a path.
func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			if i == 0 {
				return "/"
			}
			return path[:i]
		}
	}
	return "."
}

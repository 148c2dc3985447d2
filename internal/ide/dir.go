package ide

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/snapshot"
	"github.com/bolasblack/settingsync/internal/transact"
)

// DirMediator treats a directory tree as the host configuration.
type DirMediator struct {
	fs       afero.Fs
	root     string
	registry *extension.Registry
	ignored  []string
}

// DirOption configures a DirMediator.
type DirOption func(*DirMediator)

// WithRegistry makes the mediator consult FilterPoint extensions.
func WithRegistry(r *extension.Registry) DirOption {
	return func(m *DirMediator) { m.registry = r }
}

// WithIgnoredDir skips dir (and everything below it) when reading and applying.
func WithIgnoredDir(dir string) DirOption {
	return func(m *DirMediator) { m.ignored = append(m.ignored, filepath.Clean(dir)) }
}

// NewDirMediator creates a mediator over root on fs.
func NewDirMediator(fs afero.Fs, root string, opts ...DirOption) *DirMediator {
	m := &DirMediator{fs: fs, root: filepath.Clean(root)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root returns the configuration root.
func (m *DirMediator) Root() string { return m.root }

// Tracks reports whether rel passes every FilterPoint extension and lies
// outside the ignored directories.
func (m *DirMediator) Tracks(rel string) bool {
	abs := m.abs(rel)
	for _, dir := range m.ignored {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return false
		}
	}
	for _, f := range extension.Extensions(m.registry, FilterPoint) {
		if !f.Include(rel) {
			return false
		}
	}
	return true
}

func (m *DirMediator) isIgnoredDir(p string) bool {
	return slices.Contains(m.ignored, filepath.Clean(p))
}

// CurrentFiles walks the configuration root.
func (m *DirMediator) CurrentFiles(ctx context.Context) (*snapshot.Snapshot, error) {
	if _, err := m.fs.Stat(m.root); errors.Is(err, os.ErrNotExist) {
		return snapshot.Empty(), nil
	}

	var files []snapshot.FileState
	err := afero.Walk(m.fs, m.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			if p != m.root && m.isIgnoredDir(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(m.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !m.Tracks(rel) {
			return nil
		}

		content, err := afero.ReadFile(m.fs, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, snapshot.NewFileState(rel, content))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration at %s: %w", m.root, err)
	}

	return snapshot.New(files...), nil
}

// Apply writes the tracked files that differ between expected and snap and
// deletes the tracked files snap no longer has. Writes are staged and
// committed together; a failure part way restores the files already written.
func (m *DirMediator) Apply(ctx context.Context, expected, snap *snapshot.Snapshot) error {
	current, err := m.CurrentFiles(ctx)
	if err != nil {
		return &ApplyError{Err: err}
	}
	changes, err := pendingChanges(m, current, expected, snap)
	if err != nil || len(changes) == 0 {
		return err
	}

	tfs := transact.New(transact.WithActualFs(m.fs))
	for _, c := range changes {
		if err := snapshot.ValidatePath(c.Path); err != nil {
			return &ApplyError{Path: c.Path, Err: err}
		}
		abs := m.abs(c.Path)
		if c.Kind == snapshot.ChangeDeleted {
			if err := tfs.Remove(abs); err != nil {
				return &ApplyError{Path: c.Path, Err: err}
			}
			continue
		}
		f, _ := snap.Get(c.Path)
		mode := os.FileMode(0644)
		if info, err := m.fs.Stat(abs); err == nil {
			mode = info.Mode().Perm()
		}
		if err := tfs.WriteFile(abs, f.Content, mode); err != nil {
			return &ApplyError{Path: c.Path, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return &ApplyError{Err: err}
	}
	if _, err := tfs.Commit(transact.Apply); err != nil {
		return &ApplyError{Err: err}
	}
	return nil
}

func (m *DirMediator) abs(rel string) string {
	return filepath.Join(m.root, filepath.FromSlash(rel))
}

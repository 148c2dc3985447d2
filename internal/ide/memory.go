package ide

import (
	"context"
	"sync"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// MemoryMediator keeps the configuration in memory and records every
// successful Apply.
type MemoryMediator struct {
	mu      sync.Mutex
	files   *snapshot.Snapshot
	applied []*snapshot.Snapshot

	// ApplyErr, when set, makes Apply fail without changing anything.
	ApplyErr error
	// Filter, when set, limits the tracked paths.
	Filter func(path string) bool
	// BeforeApply, when set, runs at the start of every Apply without the
	// lock held, as a user edit racing the apply would.
	BeforeApply func()
}

// NewMemoryMediator creates a mediator holding files.
func NewMemoryMediator(files ...snapshot.FileState) *MemoryMediator {
	return &MemoryMediator{files: snapshot.New(files...)}
}

// Write sets one file, as a user edit would.
func (m *MemoryMediator) Write(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = m.files.With(snapshot.NewFileState(path, []byte(content)))
}

// Delete removes one file.
func (m *MemoryMediator) Delete(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = m.files.Without(path)
}

// Read returns a file's content and whether it exists.
func (m *MemoryMediator) Read(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files.Get(path)
	return string(f.Content), ok
}

func (m *MemoryMediator) Tracks(path string) bool {
	return m.Filter == nil || m.Filter(path)
}

func (m *MemoryMediator) CurrentFiles(ctx context.Context) (*snapshot.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Visible(m, m.files), nil
}

func (m *MemoryMediator) Apply(ctx context.Context, expected, snap *snapshot.Snapshot) error {
	if m.BeforeApply != nil {
		m.BeforeApply()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ApplyErr != nil {
		return &ApplyError{Err: m.ApplyErr}
	}
	if err := ctx.Err(); err != nil {
		return &ApplyError{Err: err}
	}
	changes, err := pendingChanges(m, Visible(m, m.files), expected, snap)
	if err != nil {
		return err
	}
	files := m.files
	for _, c := range changes {
		if f, ok := snap.Get(c.Path); ok {
			files = files.With(f)
		} else {
			files = files.Without(c.Path)
		}
	}
	m.files = files
	m.applied = append(m.applied, snap)
	return nil
}

// Applied returns every snapshot applied so far, oldest first.
func (m *MemoryMediator) Applied() []*snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*snapshot.Snapshot(nil), m.applied...)
}

// LastApplied returns the most recent applied snapshot, or nil.
func (m *MemoryMediator) LastApplied() *snapshot.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.applied) == 0 {
		return nil
	}
	return m.applied[len(m.applied)-1]
}

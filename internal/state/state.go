// Package state persists per-installation sync state.
// It maintains a state file (<storage>/state.json) that records the installation
// identity and the sync marker: the last log entry known to equal the remote.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/util"
)

// CurrentVersion is the current state file version.
const CurrentVersion = "1"

// State represents the persistent sync state of one installation.
type State struct {
	Version string `json:"version"`
	// InstallationID is a unique UUID for this installation, sent with every push.
	InstallationID string `json:"installation_id"`
	// CreatedAt is when the state was first created.
	CreatedAt time.Time `json:"created_at"`
	// Remote identifies the remote the marker refers to.
	Remote string `json:"remote,omitempty"`
	// Marker is nil until the first successful sync.
	Marker *Marker `json:"marker,omitempty"`
}

// Marker records the last log entry known to equal the remote state.
type Marker struct {
	EntryID       string    `json:"entry_id"`
	RemoteVersion string    `json:"remote_version"`
	SyncedAt      time.Time `json:"synced_at"`
}

// IsZero reports whether m refers to nothing.
func (m Marker) IsZero() bool {
	return m.EntryID == "" && m.RemoteVersion == ""
}

// Store reads and writes the state file. Methods are safe for concurrent use.
type Store struct {
	fs    afero.Fs
	dir   string
	clock clock.Clock
	mu    sync.Mutex
}

// NewStore creates a store for the state file inside storageDir.
func NewStore(env *util.Env, storageDir string, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Store{fs: env.Fs, dir: storageDir, clock: clk}
}

// Path returns the path to the state file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, util.StateFileName)
}

// Load reads the state file.
// Returns nil and no error if the state file does not exist.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*State, error) {
	data, err := afero.ReadFile(s.fs, s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &st, nil
}

// Save writes the state file, creating the storage dir if needed.
func (s *Store) Save(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *Store) saveLocked(st *State) error {
	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.Path() + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := s.fs.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// LoadOrCreate loads the state file if it exists, or creates a new one bound to
// remote. When an existing state refers to a different remote, its marker is
// dropped because it describes another store's versions.
func (s *Store) LoadOrCreate(remote string) (*State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return nil, false, err
	}

	if st != nil {
		if st.DetectRemoteDrift(remote) {
			st.Remote = remote
			st.Marker = nil
			if err := s.saveLocked(st); err != nil {
				return nil, false, err
			}
		}
		return st, false, nil
	}

	st = &State{
		Version:        CurrentVersion,
		InstallationID: uuid.New().String(),
		CreatedAt:      s.clock.Now(),
		Remote:         remote,
	}
	if err := s.saveLocked(st); err != nil {
		return nil, true, err
	}
	return st, true, nil
}

// Delete removes the state file.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.fs.Remove(s.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete state file: %w", err)
	}
	return nil
}

// LoadMarker returns the persisted marker, or the zero marker.
func (s *Store) LoadMarker() (Marker, error) {
	st, err := s.Load()
	if err != nil || st == nil || st.Marker == nil {
		return Marker{}, err
	}
	return *st.Marker, nil
}

// SaveMarker persists m. The state file must already exist.
func (s *Store) SaveMarker(m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loadLocked()
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("state file %s not found", s.Path())
	}
	if m.SyncedAt.IsZero() {
		m.SyncedAt = s.clock.Now()
	}
	st.Marker = &m
	return s.saveLocked(st)
}

// DetectRemoteDrift returns true if the state was recorded against another remote.
func (st *State) DetectRemoteDrift(remote string) bool {
	return st.Remote != "" && st.Remote != remote
}

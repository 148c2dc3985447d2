package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/snapshot"
	"github.com/bolasblack/settingsync/internal/util"
)

// ConflictError is returned when a cloud cycle finds paths changed on both
// sides. Nothing is applied or pushed.
type ConflictError struct {
	Conflicts     []snapshot.Conflict
	RemoteVersion string
}

func (e *ConflictError) Error() string {
	paths := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		paths = append(paths, c.Path)
	}
	noun := "path"
	if len(paths) != 1 {
		noun = "paths"
	}
	return fmt.Sprintf("%d conflicting %s: %s", len(paths), noun, strings.Join(paths, ", "))
}

// ConflictInfo is one cached conflict.
type ConflictInfo struct {
	Path       string    `json:"path"`
	Local      string    `json:"local"`
	Cloud      string    `json:"cloud"`
	DetectedAt time.Time `json:"detectedAt"`
}

// CacheData is the content of the conflicts file.
type CacheData struct {
	UpdatedAt     time.Time      `json:"updatedAt"`
	RemoteVersion string         `json:"remoteVersion"`
	Conflicts     []ConflictInfo `json:"conflicts"`
}

// ConflictCache persists the last detected conflicts so that other
// processes (status, resolve) can show them.
type ConflictCache struct {
	fs  afero.Fs
	dir string
}

// NewConflictCache creates a cache stored in storageDir.
func NewConflictCache(fs afero.Fs, storageDir string) *ConflictCache {
	return &ConflictCache{fs: fs, dir: storageDir}
}

// Path returns the cache file path.
func (c *ConflictCache) Path() string {
	return filepath.Join(c.dir, util.ConflictsFileName)
}

// Read returns the cached conflicts, or nil if none are recorded.
func (c *ConflictCache) Read() (*CacheData, error) {
	data, err := afero.ReadFile(c.fs, c.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read conflicts file: %w", err)
	}

	var cache CacheData
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse conflicts file: %w", err)
	}
	return &cache, nil
}

// Write replaces the cached conflicts.
func (c *ConflictCache) Write(data *CacheData) error {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conflicts: %w", err)
	}
	tmp := c.Path() + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write conflicts file: %w", err)
	}
	if err := c.fs.Rename(tmp, c.Path()); err != nil {
		return fmt.Errorf("failed to write conflicts file: %w", err)
	}
	return nil
}

// Clear removes the cache file.
func (c *ConflictCache) Clear() error {
	err := c.fs.Remove(c.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear conflicts file: %w", err)
	}
	return nil
}

func newCacheData(conflicts []snapshot.Conflict, version string, now time.Time) *CacheData {
	infos := make([]ConflictInfo, 0, len(conflicts))
	for _, c := range conflicts {
		infos = append(infos, ConflictInfo{
			Path:       c.Path,
			Local:      string(c.Local),
			Cloud:      string(c.Cloud),
			DetectedAt: now,
		})
	}
	return &CacheData{UpdatedAt: now, RemoteVersion: version, Conflicts: infos}
}

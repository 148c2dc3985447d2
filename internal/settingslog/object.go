package settingslog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// ObjectBackend stores entries as JSON records with content-addressed blobs:
//
//	<root>/objects/<sha256>     file contents
//	<root>/entries/<id>.json    entry records
//	<root>/HEAD                 newest entry id
//
// Every file is written to a temporary name and renamed. HEAD moves last, so
// an interrupted append leaves the previous head intact.
type ObjectBackend struct {
	fs   afero.Fs
	root string
}

// NewObjectBackend creates a backend rooted at dir on fs.
func NewObjectBackend(fs afero.Fs, dir string) *ObjectBackend {
	return &ObjectBackend{fs: fs, root: dir}
}

type objectRecord struct {
	ID        string       `json:"id"`
	Parent    string       `json:"parent,omitempty"`
	Kind      Kind         `json:"kind"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
	Files     []objectFile `json:"files"`
}

type objectFile struct {
	Path     string            `json:"path"`
	Object   string            `json:"object"`
	Encoding snapshot.Encoding `json:"encoding"`
}

func (b *ObjectBackend) objectPath(hash string) string {
	return filepath.Join(b.root, "objects", hash)
}

func (b *ObjectBackend) entryPath(id string) string {
	return filepath.Join(b.root, "entries", id+".json")
}

func (b *ObjectBackend) headPath() string {
	return filepath.Join(b.root, "HEAD")
}

func (b *ObjectBackend) Init(_ context.Context) error {
	for _, dir := range []string{"objects", "entries"} {
		if err := b.fs.MkdirAll(filepath.Join(b.root, dir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (b *ObjectBackend) Head(_ context.Context) (string, error) {
	data, err := afero.ReadFile(b.fs, b.headPath())
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *ObjectBackend) Append(ctx context.Context, e Entry, snap *snapshot.Snapshot) (string, error) {
	rec := objectRecord{
		Parent:    e.Parent,
		Kind:      e.Kind,
		Message:   e.Message,
		Timestamp: e.Timestamp,
		Files:     []objectFile{},
	}

	for _, f := range snap.Files() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hash := contentHash(f.Content)
		if exists, _ := afero.Exists(b.fs, b.objectPath(hash)); !exists {
			if err := b.writeAtomic(b.objectPath(hash), f.Content); err != nil {
				return "", fmt.Errorf("failed to write object for %s: %w", f.Path, err)
			}
		}
		rec.Files = append(rec.Files, objectFile{Path: f.Path, Object: hash, Encoding: f.Encoding})
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	rec.ID = contentHash(body)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := b.writeAtomic(b.entryPath(rec.ID), data); err != nil {
		return "", fmt.Errorf("failed to write entry: %w", err)
	}
	if err := b.writeAtomic(b.headPath(), []byte(rec.ID+"\n")); err != nil {
		return "", fmt.Errorf("failed to move head: %w", err)
	}
	return rec.ID, nil
}

func (b *ObjectBackend) record(id string) (objectRecord, error) {
	var rec objectRecord
	data, err := afero.ReadFile(b.fs, b.entryPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return rec, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to parse entry %s: %w", id, err)
	}
	return rec, nil
}

func (b *ObjectBackend) Entry(_ context.Context, id string) (Entry, error) {
	rec, err := b.record(id)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		ID:        rec.ID,
		Parent:    rec.Parent,
		Kind:      rec.Kind,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
	}, nil
}

func (b *ObjectBackend) Snapshot(_ context.Context, id string) (*snapshot.Snapshot, error) {
	rec, err := b.record(id)
	if err != nil {
		return nil, err
	}
	files := make([]snapshot.FileState, 0, len(rec.Files))
	for _, f := range rec.Files {
		content, err := b.object(f.Object)
		if err != nil {
			return nil, fmt.Errorf("%s in entry %s: %w", f.Path, id, err)
		}
		files = append(files, snapshot.NewFileState(f.Path, content))
	}
	return snapshot.New(files...), nil
}

func (b *ObjectBackend) Content(_ context.Context, id, p string) ([]byte, error) {
	rec, err := b.record(id)
	if err != nil {
		return nil, err
	}
	for _, f := range rec.Files {
		if f.Path == path.Clean(p) {
			return b.object(f.Object)
		}
	}
	return nil, fmt.Errorf("%s in entry %s: %w", p, id, ErrNotFound)
}

func (b *ObjectBackend) object(hash string) ([]byte, error) {
	content, err := afero.ReadFile(b.fs, b.objectPath(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", hash, err)
	}
	if contentHash(content) != hash {
		return nil, fmt.Errorf("object %s is corrupt", hash)
	}
	return content, nil
}

func (b *ObjectBackend) writeAtomic(name string, data []byte) error {
	if err := b.fs.MkdirAll(filepath.Dir(name), 0755); err != nil {
		return err
	}
	tmp := name + ".tmp-" + uuid.NewString()
	if err := afero.WriteFile(b.fs, tmp, data, 0644); err != nil {
		_ = b.fs.Remove(tmp)
		return err
	}
	if err := b.fs.Rename(tmp, name); err != nil {
		_ = b.fs.Remove(tmp)
		return err
	}
	return nil
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

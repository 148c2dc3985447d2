// Package snapshot models point-in-time views of a tracked configuration tree.
//
// A Snapshot is an ordered set of FileStates keyed by a slash-separated path
// relative to the configuration root. Content comparison is byte-exact and never
// looks at modification times.
package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

// Encoding describes how a file's content should be interpreted.
type Encoding string

const (
	// EncodingUTF8 marks textual content.
	EncodingUTF8 Encoding = "utf-8"
	// EncodingBinary marks content that is not valid UTF-8.
	EncodingBinary Encoding = "binary"
)

// FileState is the recorded content of one configuration file.
type FileState struct {
	Path     string
	Content  []byte
	Encoding Encoding
}

// NewFileState creates a FileState with a normalized path and a private copy
// of content. The encoding is detected from the content.
func NewFileState(p string, content []byte) FileState {
	enc := EncodingUTF8
	if !utf8.Valid(content) {
		enc = EncodingBinary
	}
	return FileState{
		Path:     CleanPath(p),
		Content:  bytes.Clone(content),
		Encoding: enc,
	}
}

// Equal reports whether two file states have the same path and content.
// Encoding is derived data and not compared.
func (f FileState) Equal(o FileState) bool {
	return f.Path == o.Path && bytes.Equal(f.Content, o.Content)
}

// CleanPath normalizes p into a slash-separated relative path.
func CleanPath(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// ValidatePath rejects paths that would escape the configuration root.
func ValidatePath(p string) error {
	clean := CleanPath(p)
	if clean == "" {
		return fmt.Errorf("empty path")
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the configuration root", p)
	}
	return nil
}

// Snapshot is an immutable, path-ordered set of file states.
type Snapshot struct {
	files []FileState
}

// New builds a snapshot from files. Later duplicates of a path win.
func New(files ...FileState) *Snapshot {
	byPath := make(map[string]FileState, len(files))
	for _, f := range files {
		f = NewFileState(f.Path, f.Content)
		byPath[f.Path] = f
	}
	out := make([]FileState, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b FileState) int {
		return strings.Compare(a.Path, b.Path)
	})
	return &Snapshot{files: out}
}

// Empty returns a snapshot with no files.
func Empty() *Snapshot {
	return &Snapshot{}
}

// Files returns a copy of the file states in path order.
func (s *Snapshot) Files() []FileState {
	if s == nil {
		return nil
	}
	return slices.Clone(s.files)
}

// Len returns the number of files.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.files)
}

// Paths returns the tracked paths in order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, s.Len())
	for _, f := range s.Files() {
		paths = append(paths, f.Path)
	}
	return paths
}

// Get returns the state of path, if present.
func (s *Snapshot) Get(p string) (FileState, bool) {
	if s == nil {
		return FileState{}, false
	}
	p = CleanPath(p)
	i, found := slices.BinarySearchFunc(s.files, p, func(f FileState, target string) int {
		return strings.Compare(f.Path, target)
	})
	if !found {
		return FileState{}, false
	}
	return s.files[i], true
}

// With returns a new snapshot with files added or replaced.
func (s *Snapshot) With(files ...FileState) *Snapshot {
	return New(append(s.Files(), files...)...)
}

// Without returns a new snapshot without the given paths.
func (s *Snapshot) Without(paths ...string) *Snapshot {
	drop := make(map[string]bool, len(paths))
	for _, p := range paths {
		drop[CleanPath(p)] = true
	}
	var kept []FileState
	for _, f := range s.Files() {
		if !drop[f.Path] {
			kept = append(kept, f)
		}
	}
	return New(kept...)
}

// Equal compares two snapshots file by file. A nil snapshot equals an empty one.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s.Len() != o.Len() {
		return false
	}
	a, b := s.Files(), o.Files()
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Hash returns a stable content hash over paths and contents.
func (s *Snapshot) Hash() string {
	h := sha256.New()
	for _, f := range s.Files() {
		fmt.Fprintf(h, "%d:%s\x00%d:", len(f.Path), f.Path, len(f.Content))
		h.Write(f.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// String returns a short description for logs.
func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot(%d files, %s)", s.Len(), s.Hash()[:12])
}

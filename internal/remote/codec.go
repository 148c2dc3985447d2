package remote

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bolasblack/settingsync/internal/snapshot"
)

// Document is the wire form of a pushed snapshot.
type Document struct {
	ID             string         `json:"id"`
	InstallationID string         `json:"installation_id"`
	PushedAt       time.Time      `json:"pushed_at"`
	Files          []DocumentFile `json:"files"`
}

// DocumentFile is one file in a Document. Content is base64.
type DocumentFile struct {
	Path     string            `json:"path"`
	Content  string            `json:"content"`
	Encoding snapshot.Encoding `json:"encoding"`
}

// NewDocument wraps snap for pushing.
func NewDocument(snap *snapshot.Snapshot, installationID string, at time.Time) Document {
	doc := Document{
		ID:             uuid.NewString(),
		InstallationID: installationID,
		PushedAt:       at.UTC(),
		Files:          []DocumentFile{},
	}
	for _, f := range snap.Files() {
		doc.Files = append(doc.Files, DocumentFile{
			Path:     f.Path,
			Content:  base64.StdEncoding.EncodeToString(f.Content),
			Encoding: f.Encoding,
		})
	}
	return doc
}

// Snapshot decodes the document's files.
func (d Document) Snapshot() (*snapshot.Snapshot, error) {
	files := make([]snapshot.FileState, 0, len(d.Files))
	for _, f := range d.Files {
		if err := snapshot.ValidatePath(f.Path); err != nil {
			return nil, fmt.Errorf("invalid document: %w", err)
		}
		content, err := base64.StdEncoding.DecodeString(f.Content)
		if err != nil {
			return nil, fmt.Errorf("invalid content for %s: %w", f.Path, err)
		}
		files = append(files, snapshot.NewFileState(f.Path, content))
	}
	return snapshot.New(files...), nil
}

// Encode serializes d.
func Encode(d Document) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Decode parses a serialized document.
func Decode(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("invalid settings document: %w", err)
	}
	return d, nil
}

// VersionOf returns the content version of an encoded document.
func VersionOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

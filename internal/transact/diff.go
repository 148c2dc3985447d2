package transact

import (
	"bytes"
	"os"

	"github.com/spf13/afero"
)

// OpType represents the type of file operation.
type OpType int

const (
	// OpCreate indicates a new file creation.
	OpCreate OpType = iota
	// OpUpdate indicates updating an existing file's content.
	OpUpdate
	// OpChmod indicates a permission change only.
	OpChmod
	// OpDelete indicates file deletion.
	OpDelete
)

// String returns a human-readable string for the operation type.
func (o OpType) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpChmod:
		return "chmod"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileOp represents a single file operation to be committed.
type FileOp struct {
	Path    string
	Op      OpType
	Content []byte
	Mode    os.FileMode
}

// ComputeDiff compares staged vs actual filesystem and returns operations needed.
// Deletions come first, followed by writes in tracking order.
func ComputeDiff(staged, actual afero.Fs, paths, deletedPaths []string) ([]FileOp, error) {
	var ops []FileOp

	for _, path := range deletedPaths {
		if _, err := actual.Stat(path); err == nil {
			ops = append(ops, FileOp{Path: path, Op: OpDelete})
		}
	}

	for _, path := range paths {
		stagedInfo, stagedErr := staged.Stat(path)
		if stagedErr != nil {
			continue
		}
		content, err := afero.ReadFile(staged, path)
		if err != nil {
			return nil, err
		}

		actualInfo, actualErr := actual.Stat(path)
		if actualErr != nil {
			ops = append(ops, FileOp{
				Path:    path,
				Op:      OpCreate,
				Content: content,
				Mode:    stagedInfo.Mode().Perm(),
			})
			continue
		}

		actualContent, err := afero.ReadFile(actual, path)
		if err != nil {
			return nil, err
		}
		switch {
		case !bytes.Equal(content, actualContent):
			ops = append(ops, FileOp{
				Path:    path,
				Op:      OpUpdate,
				Content: content,
				Mode:    stagedInfo.Mode().Perm(),
			})
		case stagedInfo.Mode().Perm() != actualInfo.Mode().Perm():
			ops = append(ops, FileOp{
				Path: path,
				Op:   OpChmod,
				Mode: stagedInfo.Mode().Perm(),
			})
		}
	}

	return ops, nil
}

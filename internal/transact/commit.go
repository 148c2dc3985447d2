package transact

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// ExecuteOp executes a single file operation on the given filesystem.
func ExecuteOp(fs afero.Fs, op FileOp) error {
	switch op.Op {
	case OpCreate, OpUpdate:
		if err := fs.MkdirAll(parentDir(op.Path), 0755); err != nil {
			return err
		}
		return afero.WriteFile(fs, op.Path, op.Content, op.Mode)

	case OpChmod:
		return fs.Chmod(op.Path, op.Mode)

	case OpDelete:
		return fs.Remove(op.Path)

	default:
		return fmt.Errorf("unknown operation type: %d", op.Op)
	}
}

// priorState is what a path looked like before an op touched it.
type priorState struct {
	path    string
	existed bool
	content []byte
	mode    os.FileMode
	// newDirs are the parent directories the op creates, deepest first.
	newDirs []string
}

func capture(fs afero.Fs, op FileOp) (priorState, error) {
	prior := priorState{path: op.Path}
	if op.Op == OpCreate || op.Op == OpUpdate {
		dirs, err := missingDirs(fs, parentDir(op.Path))
		if err != nil {
			return priorState{}, err
		}
		prior.newDirs = dirs
	}

	info, err := fs.Stat(op.Path)
	if errors.Is(err, os.ErrNotExist) {
		return prior, nil
	}
	if err != nil {
		return priorState{}, err
	}
	content, err := afero.ReadFile(fs, op.Path)
	if err != nil {
		return priorState{}, err
	}
	prior.existed, prior.content, prior.mode = true, content, info.Mode().Perm()
	return prior, nil
}

// missingDirs returns dir and its ancestors that do not exist, deepest first.
func missingDirs(fs afero.Fs, dir string) ([]string, error) {
	var dirs []string
	for {
		exists, err := afero.Exists(fs, dir)
		if err != nil {
			return nil, err
		}
		if exists {
			return dirs, nil
		}
		dirs = append(dirs, dir)
		parent := parentDir(dir)
		if parent == dir || parent == "" || parent == "." {
			return dirs, nil
		}
		dir = parent
	}
}

// removeNewDirs deletes the directories the op created. They are empty once
// the op and every later op have been reverted.
func (p priorState) removeNewDirs(fs afero.Fs) error {
	for _, dir := range p.newDirs {
		if err := fs.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (p priorState) restore(fs afero.Fs) error {
	if !p.existed {
		if err := fs.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return p.removeNewDirs(fs)
	}
	return ExecuteOp(fs, FileOp{Path: p.path, Op: OpUpdate, Content: p.content, Mode: p.mode})
}

// ExecuteOps executes multiple file operations on the given filesystem.
// When an operation fails, the operations already applied are reverted in
// reverse order, directories they created included, and the original error
// is returned.
func ExecuteOps(fs afero.Fs, ops []FileOp) error {
	applied := make([]priorState, 0, len(ops))
	for _, op := range ops {
		prior, err := capture(fs, op)
		if err == nil {
			err = ExecuteOp(fs, op)
		}
		if err != nil {
			opErr := fmt.Errorf("failed to execute %s on %s: %w", op.Op, op.Path, err)
			rbErr := rollback(fs, applied)
			if dirErr := prior.removeNewDirs(fs); dirErr != nil {
				rbErr = errors.Join(rbErr, fmt.Errorf("rollback %s: %w", op.Path, dirErr))
			}
			if rbErr != nil {
				return errors.Join(opErr, rbErr)
			}
			return opErr
		}
		applied = append(applied, prior)
	}
	return nil
}

func rollback(fs afero.Fs, applied []priorState) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		if err := applied[i].restore(fs); err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", applied[i].path, err))
		}
	}
	return errors.Join(errs...)
}

// Apply is a CommitFunc that runs ExecuteOps against the base filesystem.
func Apply(ctx CommitContext) error {
	return ExecuteOps(ctx.BaseFs, ctx.Ops)
}

// Package lockfile gives one process exclusive ownership of a storage dir.
package lockfile

import (
	"errors"
	"path/filepath"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("storage directory is locked by another process")

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	path    string
	release func() error
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.release == nil {
		return nil
	}
	fn := l.release
	l.release = nil
	return fn()
}

// Acquire takes the lock file name inside dir without blocking.
func Acquire(dir, name string) (*Lock, error) {
	path := filepath.Join(dir, name)
	release, err := acquire(path)
	if err != nil {
		return nil, err
	}
	return &Lock{path: path, release: release}, nil
}

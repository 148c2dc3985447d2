package settingslog

import (
	"fmt"
	"time"
)

// Kind classifies why an entry was appended.
type Kind string

const (
	KindInitial          Kind = "initial"
	KindInitialCopy      Kind = "initial-copy"
	KindSessionChange    Kind = "session-change"
	KindLocalChange      Kind = "local-change"
	KindAppliedFromCloud Kind = "applied-from-cloud"
	KindMerge            Kind = "merge"
)

var defaultMessages = map[Kind]string{
	KindInitial:          "Initial",
	KindInitialCopy:      "Copy existing configs",
	KindSessionChange:    "Changes made between sessions",
	KindLocalChange:      "Local changes",
	KindAppliedFromCloud: "Apply changes received from the server",
	KindMerge:            "Merge local and server changes",
}

// DefaultMessage returns the message used when none is given.
func (k Kind) DefaultMessage() string {
	if m, ok := defaultMessages[k]; ok {
		return m
	}
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := defaultMessages[k]
	return ok
}

// Entry is one immutable record in the log.
type Entry struct {
	ID        string
	Parent    string
	Kind      Kind
	Message   string
	Timestamp time.Time
}

// IsZero reports whether e is the zero entry.
func (e Entry) IsZero() bool { return e.ID == "" }

// Short returns an abbreviated entry ID.
func (e Entry) Short() string {
	if len(e.ID) > 8 {
		return e.ID[:8]
	}
	return e.ID
}

func (e Entry) String() string {
	return fmt.Sprintf("%s [%s] %s", e.Short(), e.Kind, e.Message)
}

// StorageError reports a failure of the underlying log storage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("settings log %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

package snapshot

import (
	"bytes"
	"slices"
)

// ChangeKind classifies how a path differs between two snapshots.
type ChangeKind string

const (
	ChangeNone     ChangeKind = "unchanged"
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is a single path-level difference.
type Change struct {
	Path string
	Kind ChangeKind
}

// Diff returns the changes that turn from into to, in path order.
func Diff(from, to *Snapshot) []Change {
	var changes []Change
	for _, p := range unionPaths(from, to) {
		if kind := changeKind(from, to, p); kind != ChangeNone {
			changes = append(changes, Change{Path: p, Kind: kind})
		}
	}
	return changes
}

func changeKind(from, to *Snapshot, p string) ChangeKind {
	a, inFrom := from.Get(p)
	b, inTo := to.Get(p)
	switch {
	case !inFrom && inTo:
		return ChangeCreated
	case inFrom && !inTo:
		return ChangeDeleted
	case inFrom && inTo && !bytes.Equal(a.Content, b.Content):
		return ChangeModified
	default:
		return ChangeNone
	}
}

func unionPaths(snaps ...*Snapshot) []string {
	seen := make(map[string]bool)
	var paths []string
	for _, s := range snaps {
		for _, p := range s.Paths() {
			if !seen[p] {
				seen[p] = true
				paths = append(paths, p)
			}
		}
	}
	slices.Sort(paths)
	return paths
}

// Conflict is a path changed differently on both sides since the common base.
type Conflict struct {
	Path  string
	Local ChangeKind
	Cloud ChangeKind
}

// MergeResult is the outcome of a three-way merge.
type MergeResult struct {
	// Snapshot holds the merged state. Conflicting paths keep the local version.
	Snapshot  *Snapshot
	Conflicts []Conflict
}

// Merge combines local and remote changes made since base. A path changed on
// only one side takes that side's state. A path changed identically on both
// sides is not a conflict.
func Merge(base, local, remote *Snapshot) MergeResult {
	var files []FileState
	var conflicts []Conflict

	for _, p := range unionPaths(base, local, remote) {
		b, inBase := base.Get(p)
		l, inLocal := local.Get(p)
		r, inRemote := remote.Get(p)

		same := func(x FileState, okX bool, y FileState, okY bool) bool {
			if okX != okY {
				return false
			}
			return !okX || bytes.Equal(x.Content, y.Content)
		}

		var pick FileState
		var keep bool
		switch {
		case same(l, inLocal, r, inRemote):
			pick, keep = l, inLocal
		case same(l, inLocal, b, inBase):
			pick, keep = r, inRemote
		case same(r, inRemote, b, inBase):
			pick, keep = l, inLocal
		default:
			conflicts = append(conflicts, Conflict{
				Path:  p,
				Local: changeKind(base, local, p),
				Cloud: changeKind(base, remote, p),
			})
			pick, keep = l, inLocal
		}
		if keep {
			files = append(files, pick)
		}
	}

	return MergeResult{Snapshot: New(files...), Conflicts: conflicts}
}

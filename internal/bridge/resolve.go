package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/snapshot"
)

// Choice is how one conflicting path is settled.
type Choice string

const (
	ChoiceLocal Choice = "local"
	ChoiceCloud Choice = "cloud"
	ChoiceSkip  Choice = "skip"
)

// Resolve settles conflicts with the given per-path choices, then applies,
// records and pushes the result. If any conflict is left without a choice,
// nothing changes and a *ConflictError lists the remaining paths.
func (b *Bridge) Resolve(ctx context.Context, choices map[string]Choice) error {
	if err := b.requireReady(); err != nil {
		return err
	}
	b.cycle.Lock()
	defer b.cycle.Unlock()

	b.setState(StateSyncing)
	defer b.setState(StateIdle)

	_, base, err := b.markerSnapshot(ctx)
	if err != nil {
		return err
	}
	res, err := b.remote.Pull(ctx, "")
	if err != nil {
		return err
	}
	remoteSnap := res.Snapshot
	if remoteSnap == nil {
		remoteSnap = snapshot.Empty()
	}

	if _, _, err := b.log.LogChanges(context.WithoutCancel(ctx), settingslog.KindLocalChange); err != nil {
		return err
	}
	head, headSnap, err := b.log.Head(ctx)
	if err != nil {
		return err
	}

	merged := snapshot.Merge(base, headSnap, remoteSnap)
	result := merged.Snapshot
	var unresolved []snapshot.Conflict
	for _, c := range merged.Conflicts {
		switch choices[c.Path] {
		case ChoiceLocal:
			// Merge already kept the local side.
		case ChoiceCloud:
			if f, ok := remoteSnap.Get(c.Path); ok {
				result = result.With(f)
			} else {
				result = result.Without(c.Path)
			}
		default:
			unresolved = append(unresolved, c)
		}
	}
	if len(unresolved) > 0 {
		return b.recordConflicts(unresolved, res.Version)
	}
	b.clearConflicts()

	kind := settingslog.KindAppliedFromCloud
	if len(merged.Conflicts) > 0 {
		kind = settingslog.KindMerge
	}
	return b.settle(ctx, head, headSnap, result, remoteSnap, res.Version, kind, maxPushAttempts)
}

// PromptFunc asks the user how to settle one conflict.
type PromptFunc func(c ConflictInfo, index, total int) (Choice, error)

// CollectChoices walks conflicts in order and asks prompt for each. A prompt
// error, such as the user pressing Ctrl+C, stops the walk and returns what
// was collected so far.
func CollectChoices(conflicts []ConflictInfo, prompt PromptFunc, w io.Writer) map[string]Choice {
	total := len(conflicts)
	choices := make(map[string]Choice, total)
	skipped := 0

	for i, c := range conflicts {
		_, _ = fmt.Fprintf(w, "[%d/%d] %s\n", i+1, total, c.Path)
		_, _ = fmt.Fprintf(w, "  Local:  %s\n", c.Local)
		_, _ = fmt.Fprintf(w, "  Server: %s\n", c.Cloud)

		choice, err := prompt(c, i, total)
		if err != nil {
			_, _ = fmt.Fprintf(w, "\nAborted. %d chosen, %d skipped.\n", len(choices), skipped)
			return choices
		}
		if choice == ChoiceSkip {
			skipped++
			continue
		}
		choices[c.Path] = choice
	}

	_, _ = fmt.Fprintf(w, "%d chosen, %d skipped.\n", len(choices), skipped)
	return choices
}

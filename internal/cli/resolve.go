package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/extension"
)

var resolveAll string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve sync conflicts",
	Long: `Sync, then walk through the paths changed differently on both sides and
choose which version to keep. With --all every conflict is resolved the same
way without prompting.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAll, "all", "", "resolve every conflict with local or cloud")
}

func runResolve(cmd *cobra.Command, args []string) error {
	prompt := huhResolvePrompt
	switch bridge.Choice(resolveAll) {
	case "":
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("resolve needs an interactive terminal; use --all local or --all cloud")
		}
	case bridge.ChoiceLocal, bridge.ChoiceCloud:
		choice := bridge.Choice(resolveAll)
		prompt = func(bridge.ConflictInfo, int, int) (bridge.Choice, error) { return choice, nil }
	default:
		return fmt.Errorf("invalid --all value %q: expected local or cloud", resolveAll)
	}

	e, err := openCommandEngine(cmd, newCLIDeps(), engineOptions{lock: true})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return resolveConflicts(cmd.Context(), e, prompt, cmd.OutOrStdout())
}

// resolveConflicts syncs to get a fresh view of the conflicts, asks prompt
// about each and applies the choices.
func resolveConflicts(ctx context.Context, e *engine, prompt bridge.PromptFunc, out io.Writer) error {
	if err := e.bridge.Initialize(ctx, bridge.JustInit()); err != nil {
		return err
	}

	err := e.bridge.SyncNow(ctx)
	var ce *bridge.ConflictError
	if !errors.As(err, &ce) {
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "No sync conflicts.")
		return nil
	}

	data, err := e.conflicts.Read()
	if err != nil {
		return err
	}
	if data == nil || len(data.Conflicts) == 0 {
		return ce
	}
	_, _ = fmt.Fprintf(out, "%d sync conflicts found:\n\n", len(data.Conflicts))

	choices := bridge.CollectChoices(data.Conflicts, prompt, out)
	if len(choices) == 0 {
		return nil
	}

	extension.Register(e.registry, bridge.ListenerPoint, progressListener(out))
	err = e.bridge.Resolve(ctx, choices)
	if errors.As(err, &ce) {
		_, _ = fmt.Fprintf(out, "%d conflicts left without a choice; nothing was changed.\n", len(ce.Conflicts))
		return nil
	}
	if err != nil {
		return err
	}
	progressDone(out, "Conflicts resolved\n")
	return nil
}

// huhResolvePrompt uses charmbracelet/huh for interactive conflict resolution.
func huhResolvePrompt(conflict bridge.ConflictInfo, index, total int) (bridge.Choice, error) {
	var choice string
	err := huh.NewSelect[string]().
		Title("Which version should be kept?").
		Options(
			huh.NewOption("Local - push this machine's version", string(bridge.ChoiceLocal)),
			huh.NewOption("Server - take the remote version", string(bridge.ChoiceCloud)),
			huh.NewOption("Skip", string(bridge.ChoiceSkip)),
		).
		Value(&choice).
		Run()
	if err != nil {
		return "", err
	}
	return bridge.Choice(choice), nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/extension"
)

// Enable modes accepted by --mode.
const (
	modeJustInit = "just-init"
	modePush     = "push"
	modeTake     = "take"
)

var enableMode string

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Start recording settings and connect to the remote",
	Long: `Enable sync for the configured directory.

The existing settings are recorded in the local history first. Then:

  just-init  nothing else happens; the next 'sync' or 'run' exchanges changes
  push       the remote is overwritten with the local settings
  take       the local settings are replaced with the remote's`,
	RunE: runEnable,
}

func init() {
	enableCmd.Flags().StringVar(&enableMode, "mode", modeJustInit, "how to start: just-init, push or take")
}

func runEnable(cmd *cobra.Command, args []string) error {
	e, err := openCommandEngine(cmd, newCLIDeps(), engineOptions{lock: true, enable: true})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return enableSync(cmd.Context(), e, enableMode, cmd.OutOrStdout())
}

func enableSync(ctx context.Context, e *engine, mode string, out io.Writer) error {
	initMode, err := initModeFor(ctx, e, mode)
	if err != nil {
		return err
	}

	extension.Register(e.registry, bridge.ListenerPoint, progressListener(out))
	progressStep(out, "Recording settings in %s\n", e.cfg.ConfigDir)
	if err := e.bridge.Initialize(ctx, initMode); err != nil {
		return err
	}

	head, _, err := e.history.Head(ctx)
	if err != nil {
		return err
	}
	progressDone(out, "Sync enabled (%s), head %s\n", initMode, head.Short())
	return nil
}

// initModeFor maps a --mode value to an init mode. take pulls the remote
// snapshot first.
func initModeFor(ctx context.Context, e *engine, mode string) (bridge.InitMode, error) {
	switch mode {
	case modeJustInit:
		return bridge.JustInit(), nil
	case modePush:
		return bridge.PushToServer(), nil
	case modeTake:
		res, err := e.remote.Pull(ctx, "")
		if err != nil {
			return bridge.InitMode{}, err
		}
		if res.Snapshot == nil {
			return bridge.InitMode{}, errors.New("the remote is empty: nothing to take, use --mode push instead")
		}
		return bridge.TakeFromServer(res.Snapshot, res.Version), nil
	default:
		return bridge.InitMode{}, fmt.Errorf("unknown mode %q: expected %s, %s or %s", mode, modeJustInit, modePush, modeTake)
	}
}

package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/extension"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync once and exit",
	Long:  `Record local changes, push them, and bring in changes from the remote.`,
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	e, err := openCommandEngine(cmd, newCLIDeps(), engineOptions{lock: true})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	return syncOnce(cmd.Context(), e, cmd.OutOrStdout())
}

func syncOnce(ctx context.Context, e *engine, out io.Writer) error {
	extension.Register(e.registry, bridge.ListenerPoint, progressListener(out))
	if err := e.bridge.Initialize(ctx, bridge.JustInit()); err != nil {
		return err
	}

	progressStep(out, "Syncing %s with %s\n", e.cfg.ConfigDir, e.cfg.RemoteID())
	if err := e.bridge.SyncNow(ctx); err != nil {
		return err
	}
	progressDone(out, "Up to date\n")
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/config"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/util"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long:  `Display the configuration, the last synced entry, and any conflicts waiting to be resolved.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	deps := newCLIReadDeps()
	out := cmd.OutOrStdout()

	cfg, configPath, err := loadConfig(deps.Env)
	if errors.Is(err, config.ErrConfigNotFound) {
		_, _ = fmt.Fprintln(out, "Status: Not configured")
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, "Run 'settingsync init' to create a configuration file.")
		return nil
	}
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return printStatus(cmd.Context(), deps.Env, cfg, configPath, log, out)
}

func printStatus(ctx context.Context, env *util.Env, cfg config.Config, configPath string, log logger.Logger, out io.Writer) error {
	_, _ = fmt.Fprintf(out, "Config:  %s\n", configPath)
	_, _ = fmt.Fprintf(out, "Syncing: %s\n", cfg.ConfigDir)
	_, _ = fmt.Fprintf(out, "Remote:  %s\n", cfg.RemoteID())
	_, _ = fmt.Fprintln(out, "")

	e, err := openEngine(ctx, env, cfg, log, engineOptions{offline: true})
	switch {
	case errors.Is(err, errNotEnabled):
		_, _ = fmt.Fprintln(out, "Status: Not enabled")
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, "Run 'settingsync enable' to start syncing.")
		return nil
	case errors.Is(err, errRemoteChanged):
		_, _ = fmt.Fprintln(out, "Status: Remote changed")
		_, _ = fmt.Fprintln(out, "")
		_, _ = fmt.Fprintln(out, "Run 'settingsync enable' to sync with the new remote.")
		return nil
	case err != nil:
		return err
	}
	defer func() { _ = e.Close() }()

	head, _, err := e.history.Head(ctx)
	if err != nil {
		return err
	}
	marker, err := e.store.LoadMarker()
	if err != nil {
		return err
	}

	switch {
	case marker.IsZero():
		_, _ = fmt.Fprintln(out, "Status: Enabled, never synced")
	case marker.EntryID == head.ID:
		_, _ = fmt.Fprintln(out, "Status: In sync")
	default:
		_, _ = fmt.Fprintln(out, "Status: Local changes not yet pushed")
	}
	_, _ = fmt.Fprintf(out, "  Head:   %s  %s\n", head.Short(), head.Message)
	if !marker.IsZero() {
		_, _ = fmt.Fprintf(out, "  Synced: %s  version %s at %s\n",
			shortID(marker.EntryID), shortVersion(marker.RemoteVersion),
			marker.SyncedAt.Local().Format(time.DateTime))
	}

	data, err := e.conflicts.Read()
	if err != nil {
		log.Warn(fmt.Sprintf("failed to read conflicts: %v", err))
		return nil
	}
	if data != nil && len(data.Conflicts) > 0 {
		_, _ = fmt.Fprintln(out, "")
		bridge.RenderBanner(data.Conflicts, out)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

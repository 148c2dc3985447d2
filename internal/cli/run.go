package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/updatecheck"
)

var runWithServer bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Keep settings in sync until interrupted",
	Long: `Watch the configuration directory and the remote, and sync every change
in the background until SIGINT or SIGTERM.

Local edits are picked up by a file watcher, remote edits by polling and, for
an http remote, by server notifications. With --serve the settings server
runs in the same process.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWithServer, "serve", false, "also run the settings server on server.listen")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := openCommandEngine(cmd, newCLIDeps(), engineOptions{lock: true})
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var ln net.Listener
	if runWithServer {
		if ln, err = net.Listen("tcp", e.cfg.Server.Listen); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", e.cfg.Server.Listen, err)
		}
		defer func() { _ = ln.Close() }()
	}
	return runDaemon(ctx, e, ln, cmd.OutOrStdout())
}

// runDaemon syncs until ctx ends. When ln is set the settings server is
// served on it.
func runDaemon(ctx context.Context, e *engine, ln net.Listener, out io.Writer) error {
	extension.Register(e.registry, bridge.ListenerPoint, progressListener(out))

	if err := e.bridge.Initialize(ctx, bridge.JustInit()); err != nil {
		return err
	}
	if err := e.bridge.Start(ctx); err != nil {
		return err
	}

	checker := updatecheck.New(e.bridge, updatecheck.Options{
		PollInterval: e.cfg.PollInterval(),
		Root:         e.cfg.ConfigDir,
		Ignore:       []string{e.cfg.ResolvedStorageDir()},
		Debounce:     e.cfg.Debounce(),
		Notifier:     e.notifier,
		Logger:       e.log.WithField("component", "updatecheck"),
	})
	if err := checker.Start(ctx); err != nil {
		return err
	}
	defer checker.Stop()
	checker.CheckNow()

	g, gctx := errgroup.WithContext(ctx)
	if ln != nil {
		srv := newHTTPServer(e.env, e.cfg, e.log)
		progressDone(out, "Serving settings on http://%s\n", ln.Addr())
		g.Go(func() error {
			return serveUntilDone(gctx, srv, ln, e.log)
		})
	}
	progressDone(out, "Syncing %s (press Ctrl+C to stop)\n", e.cfg.ConfigDir)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	e.log.Info("stopping sync")
	return err
}

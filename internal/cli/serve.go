package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/config"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/server"
	"github.com/bolasblack/settingsync/internal/util"
)

// shutdownTimeout bounds how long in-flight requests may finish on exit.
const shutdownTimeout = 5 * time.Second

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a settings server other machines can sync with",
	Long: `Serve the shared settings document over HTTP.

Machines whose remote is of type "http" push to and pull from this server,
and are told about new versions over a websocket. The document is kept in
server.dir.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (default: server.listen)")
}

func runServe(cmd *cobra.Command, args []string) error {
	deps := newCLIDeps()
	cfg, _, err := loadConfig(deps.Env)
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Listen, err)
	}
	progressDone(cmd.OutOrStdout(), "Serving %s on http://%s\n", cfg.ResolvedServerDir(), ln.Addr())
	return serveUntilDone(ctx, newHTTPServer(deps.Env, cfg, log), ln, log)
}

// newHTTPServer builds the settings server for cfg, storing the document in
// the server dir.
func newHTTPServer(env *util.Env, cfg config.Config, log logger.Logger) *http.Server {
	store := remote.NewDirRemote(env.Fs, cfg.ResolvedServerDir(), remote.Identity{})
	return &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           server.New(store, log.WithField("component", "server")),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveUntilDone serves on ln until ctx ends, then shuts down gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server, ln net.Listener, log logger.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down settings server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/config"
	"github.com/bolasblack/settingsync/internal/lockfile"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/util"
)

// ConfigEnvVar overrides the default configuration path.
const ConfigEnvVar = "SETTINGSYNC_CONFIG"

// Common error messages for CLI commands.
const (
	ErrMsgConfigNotFound = "configuration not found: run 'settingsync init' first"
	ErrMsgNotEnabled     = "sync is not enabled: run 'settingsync enable' first"
	ErrMsgRemoteChanged  = "the configured remote changed since sync was enabled: run 'settingsync enable' again"
	ErrMsgLocked         = "another settingsync process is using this storage directory"
	ErrMsgRejected       = "the remote changed while syncing; run 'settingsync sync' again"
)

var (
	errNotEnabled    = errors.New(ErrMsgNotEnabled)
	errRemoteChanged = errors.New(ErrMsgRemoteChanged)
)

// cliDeps holds the environment a command runs against.
type cliDeps struct {
	Env       *util.Env
	CmdRunner util.CommandRunner
}

// newCLIDeps returns dependencies for commands that write.
func newCLIDeps() cliDeps {
	env := util.NewOsEnv()
	return cliDeps{Env: env, CmdRunner: env.Cmd}
}

// newCLIReadDeps returns dependencies for commands that only read.
func newCLIReadDeps() cliDeps {
	env := util.NewReadonlyOsEnv()
	return cliDeps{Env: env, CmdRunner: env.Cmd}
}

// resolveConfigPath returns the configuration path from the flag, the
// environment, or the working directory, in that order.
func resolveConfigPath(flag string, getenv func(string) string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if p := getenv(ConfigEnvVar); p != "" {
		return filepath.Abs(p)
	}
	cwd, err := getCwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, util.ConfigFileName), nil
}

// loadConfig loads the configuration selected by the global flags.
func loadConfig(env *util.Env) (config.Config, string, error) {
	path, err := resolveConfigPath(flagConfig, os.Getenv)
	if err != nil {
		return config.Config{}, "", err
	}
	cfg, err := config.LoadConfig(env.Fs, path)
	if err != nil {
		return config.Config{}, path, err
	}
	return cfg, path, nil
}

// newLogger builds the logger for cfg, honoring --log-level.
func newLogger(cfg config.Config, w io.Writer) (logger.Logger, error) {
	level := cfg.Log.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	return logger.New(logger.Options{Level: level, Format: cfg.Log.Format, Output: w})
}

// userMessage maps known errors to messages that say what to do next.
func userMessage(err error) string {
	var ce *bridge.ConflictError
	switch {
	case errors.Is(err, config.ErrConfigNotFound):
		return ErrMsgConfigNotFound
	case errors.Is(err, lockfile.ErrLocked):
		return ErrMsgLocked
	case errors.As(err, &ce):
		return fmt.Sprintf("%v\nRun 'settingsync resolve' to resolve.", ce)
	case errors.Is(err, remote.ErrRejected):
		return ErrMsgRejected
	default:
		return err.Error()
	}
}

// getCwd returns the current working directory or an error.
func getCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return cwd, nil
}

// progressStep writes a progress message with → prefix (step in progress).
// Delegates to util.ProgressStep for shared implementation.
var progressStep = util.ProgressStep

// progressDone writes a progress message with ✓ prefix (step completed).
// Delegates to util.ProgressDone for shared implementation.
var progressDone = util.ProgressDone

// progressListener reports bridge notifications as progress lines.
func progressListener(w io.Writer) bridge.Listener {
	return bridge.ListenerFunc(func(n bridge.Notification) {
		switch n.Kind {
		case bridge.NotifyPushed:
			progressDone(w, "Pushed %s (version %s)\n", n.Entry.Short(), shortVersion(n.Version))
		case bridge.NotifyApplied:
			progressDone(w, "Applied settings from the server (%s)\n", n.Entry.Short())
		case bridge.NotifyConflict:
			progressStep(w, "%d conflicting paths found\n", len(n.Conflicts))
		}
	})
}

func shortVersion(v string) string {
	if len(v) > 12 {
		return v[:12]
	}
	return v
}

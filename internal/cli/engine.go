package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/clock"
	"github.com/bolasblack/settingsync/internal/config"
	"github.com/bolasblack/settingsync/internal/extension"
	"github.com/bolasblack/settingsync/internal/ide"
	"github.com/bolasblack/settingsync/internal/lockfile"
	"github.com/bolasblack/settingsync/internal/logger"
	"github.com/bolasblack/settingsync/internal/remote"
	"github.com/bolasblack/settingsync/internal/settingslog"
	"github.com/bolasblack/settingsync/internal/state"
	"github.com/bolasblack/settingsync/internal/util"
)

// engine wires the sync components for one command invocation.
type engine struct {
	cfg       config.Config
	env       *util.Env
	log       logger.Logger
	registry  *extension.Registry
	mediator  *ide.DirMediator
	history   *settingslog.Log
	store     *state.Store
	state     *state.State
	conflicts *bridge.ConflictCache
	remote    remote.Communicator
	notifier  remote.Notifier
	bridge    *bridge.Bridge
	lock      *lockfile.Lock
}

type engineOptions struct {
	// lock takes the storage lock. Every command that writes needs it.
	lock bool
	// enable creates the state file instead of requiring it.
	enable bool
	// offline skips building the remote client.
	offline bool
}

// openCommandEngine loads the configuration and opens an engine for cmd.
func openCommandEngine(cmd *cobra.Command, deps cliDeps, opts engineOptions) (*engine, error) {
	cfg, _, err := loadConfig(deps.Env)
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return openEngine(cmd.Context(), deps.Env, cfg, log, opts)
}

func openEngine(ctx context.Context, env *util.Env, cfg config.Config, log logger.Logger, opts engineOptions) (_ *engine, err error) {
	storage := cfg.ResolvedStorageDir()
	e := &engine{cfg: cfg, env: env, log: log, registry: extension.NewRegistry()}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if opts.lock {
		if e.lock, err = lockStorage(env, storage); err != nil {
			return nil, err
		}
	}

	e.store = state.NewStore(env, storage, clock.RealClock{})
	if opts.enable {
		if e.state, _, err = e.store.LoadOrCreate(cfg.RemoteID()); err != nil {
			return nil, err
		}
	} else {
		if e.state, err = e.store.Load(); err != nil {
			return nil, err
		}
		if e.state == nil {
			return nil, errNotEnabled
		}
		if e.state.DetectRemoteDrift(cfg.RemoteID()) {
			return nil, errRemoteChanged
		}
	}

	extension.Register[ide.FileFilter](e.registry, ide.FilterPoint, ide.GlobFilter{
		Includes: cfg.Sync.Include,
		Excludes: cfg.Sync.Exclude,
	})
	e.mediator = ide.NewDirMediator(env.Fs, cfg.ConfigDir,
		ide.WithRegistry(e.registry),
		ide.WithIgnoredDir(storage),
	)

	backend, err := newBackend(env, cfg)
	if err != nil {
		return nil, err
	}
	e.history = settingslog.New(backend, e.mediator, settingslog.WithLogger(log))
	e.conflicts = bridge.NewConflictCache(env.Fs, storage)

	if opts.offline {
		return e, nil
	}

	identity := remote.Identity{InstallationID: e.state.InstallationID}
	if e.remote, e.notifier, err = newRemote(ctx, env, cfg, identity); err != nil {
		return nil, err
	}
	e.bridge = bridge.New(e.history, e.mediator, e.remote, e.store,
		bridge.WithConflictCache(e.conflicts),
		bridge.WithRegistry(e.registry),
		bridge.WithLogger(log),
	)
	return e, nil
}

// Close stops the bridge and releases the storage lock.
func (e *engine) Close() error {
	if e.bridge != nil {
		e.bridge.Stop()
	}
	return e.lock.Release()
}

func newBackend(env *util.Env, cfg config.Config) (settingslog.Backend, error) {
	dir := filepath.Join(cfg.ResolvedStorageDir(), util.LogDir)
	switch cfg.Storage.Backend {
	case config.BackendGit:
		return settingslog.NewGitBackend(env, dir), nil
	case config.BackendObjects:
		return settingslog.NewObjectBackend(env.Fs, dir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// newRemote builds the configured remote. The notifier is nil for remotes
// that cannot push change notifications.
func newRemote(ctx context.Context, env *util.Env, cfg config.Config, id remote.Identity) (remote.Communicator, remote.Notifier, error) {
	switch cfg.Remote.Type {
	case config.RemoteDir:
		return remote.NewDirRemote(env.Fs, cfg.Remote.Path, id), nil, nil
	case config.RemoteHTTP:
		r, err := remote.NewHTTPRemote(cfg.Remote.URL, id)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	case config.RemoteS3:
		r, err := remote.NewS3Remote(ctx, remote.S3Options{
			Bucket:   cfg.Remote.Bucket,
			Key:      cfg.Remote.Key,
			Region:   cfg.Remote.Region,
			Endpoint: cfg.Remote.Endpoint,
		}, id)
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote type %q", cfg.Remote.Type)
	}
}

// lockStorage takes the storage lock. Locks only exist on the real
// filesystem; other filesystems are never shared between processes.
func lockStorage(env *util.Env, dir string) (*lockfile.Lock, error) {
	if _, ok := env.Fs.(*afero.OsFs); !ok {
		return nil, nil
	}
	if err := env.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	lock, err := lockfile.Acquire(dir, util.LockFileName)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to lock storage dir: %w", err)
	}
	return lock, nil
}

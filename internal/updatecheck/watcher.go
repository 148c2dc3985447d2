package updatecheck

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bolasblack/settingsync/internal/bridge"
	"github.com/bolasblack/settingsync/internal/logger"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 500 * time.Millisecond

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Ignore   []string
	Debounce time.Duration
	Logger   logger.Logger
}

// Watcher reports changes below a directory tree. Bursts of filesystem
// events are coalesced into one local event per quiet period.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	ignore   []string
	debounce time.Duration
	sink     Sink
	log      logger.Logger

	mu      sync.Mutex
	watched map[string]bool
	timer   *time.Timer
	gen     int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher for root. Nothing is watched until Start.
func NewWatcher(root string, sink Sink, opts WatcherOptions) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	ignore := make([]string, 0, len(opts.Ignore))
	for _, p := range opts.Ignore {
		ignore = append(ignore, filepath.Clean(p))
	}
	return &Watcher{
		watcher:  fw,
		root:     filepath.Clean(root),
		ignore:   ignore,
		debounce: opts.Debounce,
		sink:     sink,
		log:      opts.Logger,
		watched:  make(map[string]bool),
	}, nil
}

// Start watches the tree and begins reporting.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.root, 0o755); err != nil { //nolint:fslint // fsnotify watches the real filesystem
		return fmt.Errorf("failed to create %s: %w", w.root, err)
	}
	if err := w.addTree(w.root); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(1)
	go w.eventLoop(ctx)
	return nil
}

// Stop ends watching. A pending debounced event is dropped.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	w.gen++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// Watched returns the watched directories.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.watched))
	for p := range w.watched {
		paths = append(paths, p)
	}
	return paths
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.isIgnored(p) {
			return filepath.SkipDir
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watched[p] {
			return nil
		}
		if err := w.watcher.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		w.watched[p] = true
		return nil
	})
}

func (w *Watcher) isIgnored(p string) bool {
	for _, ig := range w.ignore {
		if p == ig || strings.HasPrefix(p, ig+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("file watcher error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.isIgnored(ev.Name) || ev.Op == fsnotify.Chmod {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() { //nolint:fslint // fsnotify watches the real filesystem
			if err := w.addTree(ev.Name); err != nil {
				w.log.Error("failed to watch new directory", err)
			}
		}
	}
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.mu.Lock()
		delete(w.watched, ev.Name)
		w.mu.Unlock()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	gen := w.gen
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.gen != gen {
			w.mu.Unlock()
			return
		}
		w.timer = nil
		w.mu.Unlock()
		w.sink.Enqueue(bridge.LocalChange())
	})
}

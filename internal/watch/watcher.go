// Package watch re-runs the engine as artifacts are saved. Events are
// debounced so an editor's burst of writes becomes one rescan, and
// rescans are rate-capped so a runaway producer cannot monopolize the
// engine.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config tunes the watcher.
type Config struct {
	// Debounce is how long after the last event a rescan waits.
	Debounce time.Duration
	// MaxRescansPerSecond caps how often the callback may fire.
	MaxRescansPerSecond float64
}

// Watcher batches filesystem events into rescan callbacks.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	limiter  *rate.Limiter
	exts     map[string]bool
	onChange func(paths []string)

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
	flushCh chan struct{}
}

// New builds a watcher that calls onChange with the batch of changed
// artifact paths. exts filters events to configured artifact extensions.
func New(cfg Config, exts map[string]bool, onChange func(paths []string)) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 400 * time.Millisecond
	}
	if cfg.MaxRescansPerSecond <= 0 {
		cfg.MaxRescansPerSecond = 2
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "watch: create watcher")
	}
	return &Watcher{
		fsw:      fsw,
		debounce: cfg.Debounce,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MaxRescansPerSecond), 1),
		exts:     exts,
		onChange: onChange,
		pending:  map[string]bool{},
		flushCh:  make(chan struct{}, 1),
	}, nil
}

// Add watches root and every non-hidden directory below it.
func (w *Watcher) Add(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "watch: walk %s", root)
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && path != root {
			return filepath.SkipDir
		}
		return eris.Wrapf(w.fsw.Add(path), "watch: add %s", path)
	})
}

// Run processes events until ctx is cancelled. It returns ctx.Err() on
// cancellation, which callers treat as a clean stop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("watch error", zap.Error(err))

		case <-w.flushCh:
			paths := w.drain()
			if len(paths) == 0 {
				continue
			}
			// The limiter caps rescan frequency; events arriving while we
			// wait accumulate into the next batch.
			if err := w.limiter.Wait(ctx); err != nil {
				return err
			}
			w.onChange(paths)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return
	}
	// New directories need their own watch; artifact files join the batch.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				zap.L().Warn("watch add failed", zap.String("path", ev.Name), zap.Error(err))
			}
			return
		}
	}
	if !w.exts[strings.ToLower(filepath.Ext(ev.Name))] {
		return
	}
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		// Temp files from atomic writes; the rename onto the real path is
		// what we react to.
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[ev.Name] = true
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.fire)
	} else {
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) fire() {
	select {
	case w.flushCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = map[string]bool{}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// Package watch turns raw filesystem events on the two source roots into
// debounced, suppression-filtered change snapshots ready for the queue.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/queue"
)

// DefaultDebounce is the write-quiescence interval that collapses editor
// autosave bursts into one change.
const DefaultDebounce = 200 * time.Millisecond

// Config describes what a Watcher observes. Roots must be two disjoint
// existing directories; extensions include the leading dot.
type Config struct {
	RootA      string
	RootB      string
	ExtA       string
	ExtB       string
	Debounce   time.Duration
	Suppressor *Suppressor
	Logger     *slog.Logger
}

// Watcher observes both side roots recursively and emits one queue.Change
// per modified file after its events go quiet for the debounce interval.
// The content snapshot is read at emit time, so the change carries what the
// file said when it stopped moving.
type Watcher struct {
	cfg   Config
	rootA string // absolute
	rootB string

	fsw    *fsnotify.Watcher
	events chan queue.Change
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	pending map[string]time.Time // path -> last raw event time
}

// New creates a watcher; Start must be called before events flow.
func New(cfg Config) (*Watcher, error) {
	if cfg.RootA == "" || cfg.RootB == "" {
		return nil, errors.New("watch: both roots are required")
	}
	if cfg.ExtA == "" || cfg.ExtB == "" {
		return nil, errors.New("watch: both side extensions are required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Suppressor == nil {
		cfg.Suppressor = NewSuppressor(DefaultSuppressionWindow)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rootA, err := filepath.Abs(cfg.RootA)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root A: %w", err)
	}
	rootB, err := filepath.Abs(cfg.RootB)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root B: %w", err)
	}
	if rootA == rootB || within(rootA, rootB) || within(rootB, rootA) {
		return nil, fmt.Errorf("watch: roots must be disjoint, got %s and %s", rootA, rootB)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:     cfg,
		rootA:   rootA,
		rootB:   rootB,
		fsw:     fsw,
		events:  make(chan queue.Change, 100),
		errs:    make(chan error, 10),
		done:    make(chan struct{}),
		pending: make(map[string]time.Time),
	}, nil
}

// Start adds recursive watches on both roots and begins emitting.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watch: already running")
	}

	for _, root := range []string{w.rootA, w.rootB} {
		if err := w.addRecursive(root); err != nil {
			w.fsw.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	w.running = true
	w.wg.Add(1)
	go w.run()
	return nil
}

// Stop halts the watcher and closes the Events and Errors channels.
// Safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	close(w.events)
	close(w.errs)

	if err != nil {
		return fmt.Errorf("watch: close fsnotify watcher: %w", err)
	}
	return nil
}

// Events returns the debounced change channel, closed by Stop.
func (w *Watcher) Events() <-chan queue.Change {
	return w.events
}

// Errors returns the error channel, closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// IsRunning reports whether the watcher is between Start and Stop.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run is the event loop: raw events pend paths, a ticker flushes paths
// whose events have gone quiet for the debounce interval.
func (w *Watcher) run() {
	defer w.wg.Done()

	interval := w.cfg.Debounce / 2
	if interval < 5*time.Millisecond {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleRawEvent(event)

		case <-ticker.C:
			w.flushQuiescent()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) handleRawEvent(event fsnotify.Event) {
	path := event.Name

	// New directories join the watch set as they appear; files already
	// inside them are pended since their create events may predate the
	// watch.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addRecursive(path); err != nil {
				w.cfg.Logger.Warn("failed to watch new directory", "path", path, "error", err)
			}
			w.pendExistingFiles(path)
			return
		}
	}

	if _, _, ok := w.classify(path); !ok {
		return
	}

	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.mu.Lock()
		w.pending[path] = time.Now()
		w.mu.Unlock()
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// Deletions do not propagate; drop any pending edit for the path.
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
	}
}

// flushQuiescent emits changes for paths whose last raw event is at least
// one debounce interval old.
func (w *Watcher) flushQuiescent() {
	now := time.Now()

	w.mu.Lock()
	ready := make(map[string]time.Time)
	for path, last := range w.pending {
		if now.Sub(last) >= w.cfg.Debounce {
			ready[path] = last
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for path, last := range ready {
		w.emit(path, last)
	}
}

func (w *Watcher) emit(path string, detectedAt time.Time) {
	if w.cfg.Suppressor.Suppressed(path, detectedAt) {
		w.cfg.Logger.Debug("self-write suppressed", "path", path)
		return
	}

	side, _, ok := w.classify(path)
	if !ok {
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		// The file vanished or turned unreadable mid-debounce; a later
		// event will re-pend it if it comes back.
		w.cfg.Logger.Debug("skipping unreadable changed file", "path", path, "error", err)
		return
	}

	change := queue.Change{
		Path:       path,
		Side:       side,
		Priority:   queue.PriorityNormal,
		DetectedAt: detectedAt,
		Content:    content,
	}

	select {
	case w.events <- change:
	case <-w.done:
	}
}

// classify maps an absolute path to its side and side extension. False for
// paths outside both roots or with the wrong extension.
func (w *Watcher) classify(path string) (ir.Side, string, bool) {
	switch {
	case within(w.rootA, path) && strings.HasSuffix(path, w.cfg.ExtA):
		return ir.SideA, w.cfg.ExtA, true
	case within(w.rootB, path) && strings.HasSuffix(path, w.cfg.ExtB):
		return ir.SideB, w.cfg.ExtB, true
	default:
		return "", "", false
	}
}

func within(root, path string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("add watch on %s: %w", path, err)
		}
		return nil
	})
}

// pendExistingFiles queues files that already exist under a directory that
// just appeared, e.g. from an editor's atomic directory rename.
func (w *Watcher) pendExistingFiles(dir string) {
	now := time.Now()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if _, _, ok := w.classify(path); ok {
			w.mu.Lock()
			w.pending[path] = now
			w.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		w.cfg.Logger.Warn("failed to scan new directory", "path", dir, "error", err)
	}
}

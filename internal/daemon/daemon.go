// Package daemon assembles the full sync pipeline from one configuration
// and runs it: watcher events pump into the queue, the engine drains the
// queue, and the journal and notifier observe from the side. The daemon
// owns every component lifecycle; nothing here makes sync decisions.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/duplex/internal/cache"
	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/engine"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/journal"
	"github.com/roach88/duplex/internal/queue"
	"github.com/roach88/duplex/internal/schema"
	"github.com/roach88/duplex/internal/status"
	"github.com/roach88/duplex/internal/store"
	"github.com/roach88/duplex/internal/watch"
)

// Option configures a Daemon.
type Option func(*options)

type options struct {
	logger *slog.Logger
	codecs *convert.Registry
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCodecs replaces the built-in IR-JSON codec registry, e.g. with real
// JSX and widget parsers.
func WithCodecs(r *convert.Registry) Option {
	return func(o *options) { o.codecs = r }
}

// Daemon is the assembled pipeline. Construct with New, drive with Run,
// and stop with Stop or by cancelling Run's context. Run may be called
// once; Stop is idempotent and safe before Run.
type Daemon struct {
	cfg    config.Config
	logger *slog.Logger

	queue    *queue.Queue
	store    *store.Store
	watcher  *watch.Watcher
	notifier *conflict.Notifier
	tracker  *status.Tracker
	resolver *conflict.Resolver
	engine   *engine.Engine
	journal  *journal.Journal // nil when disabled

	mu        sync.Mutex
	started   bool
	stopEarly bool
	stopOnce  sync.Once
}

// New wires every component from cfg. Side roots are created when
// missing so a first run needs no manual setup.
func New(cfg config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codecs == nil {
		o.codecs = convert.DefaultRegistry()
	}
	logger := o.logger

	for _, root := range []string{cfg.Sides.A.Root, cfg.Sides.B.Root} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("daemon: create side root %s: %w", root, err)
		}
	}

	validator, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("daemon: compile schema: %w", err)
	}

	st, err := store.Open(cfg.Store.Root,
		store.WithValidator(validator),
		store.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	mapper, err := convert.NewMapper(cfg.Sides.A.Root, cfg.Sides.B.Root, cfg.Sides.A.Extension, cfg.Sides.B.Extension)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}

	var jrnl *journal.Journal
	if cfg.Journal.Path != "" {
		jrnl, err = journal.Open(cfg.Journal.Path, journal.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("daemon: open journal: %w", err)
		}
	}

	detector := conflict.NewDetector(cfg.Conflicts.Window(), conflict.WithDetectorLogger(logger))
	resolver, err := conflict.NewResolver(cfg.Conflicts.ParsedStrategy(), detector, conflict.WithResolverLogger(logger))
	if err != nil {
		if jrnl != nil {
			jrnl.Close()
		}
		return nil, fmt.Errorf("daemon: %w", err)
	}

	notifierOpts := []conflict.NotifierOption{
		conflict.WithPersistDir(cfg.Conflicts.Root),
		conflict.WithNotifierLogger(logger),
	}
	if cfg.Conflicts.WebhookURL != "" {
		notifierOpts = append(notifierOpts, conflict.WithWebhook(cfg.Conflicts.WebhookURL))
	}
	if jrnl != nil {
		notifierOpts = append(notifierOpts, conflict.WithCallback(jrnl.ConflictCallback()))
	}
	notifier := conflict.NewNotifier(notifierOpts...)

	tracker := status.NewTracker(status.WithLogger(logger))
	if jrnl != nil {
		tracker.Subscribe(jrnl.OperationHandler())
	}

	suppressor := watch.NewSuppressor(cfg.Watch.Suppression())
	q := queue.New()

	conversionCache := cache.New(
		cache.WithTTL(cfg.Cache.TTL()),
		cache.WithMaxEntries(cfg.Cache.MaxEntries),
		cache.WithMaxMemoryMB(cfg.Cache.MaxMemoryMB),
		cache.WithLogger(logger),
	)

	eng, err := engine.New(q, st, o.codecs, mapper,
		engine.WithCache(conversionCache),
		engine.WithValidator(validator),
		engine.WithResolver(resolver),
		engine.WithNotifier(notifier),
		engine.WithTracker(tracker),
		engine.WithSuppressor(suppressor),
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithManualTimeout(cfg.Conflicts.ManualTimeout()),
		engine.WithRetryPolicy(engine.RetryPolicy{
			Attempts:   cfg.Engine.RetryAttempts,
			Backoff:    cfg.Engine.RetryBackoff(),
			Multiplier: cfg.Engine.RetryMultiplier,
		}),
		engine.WithLogger(logger),
	)
	if err != nil {
		if jrnl != nil {
			jrnl.Close()
		}
		return nil, fmt.Errorf("daemon: %w", err)
	}

	watcher, err := watch.New(watch.Config{
		RootA:      cfg.Sides.A.Root,
		RootB:      cfg.Sides.B.Root,
		ExtA:       cfg.Sides.A.Extension,
		ExtB:       cfg.Sides.B.Extension,
		Debounce:   cfg.Watch.Debounce(),
		Suppressor: suppressor,
		Logger:     logger,
	})
	if err != nil {
		if jrnl != nil {
			jrnl.Close()
		}
		return nil, fmt.Errorf("daemon: %w", err)
	}

	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		queue:    q,
		store:    st,
		watcher:  watcher,
		notifier: notifier,
		tracker:  tracker,
		resolver: resolver,
		engine:   eng,
		journal:  jrnl,
	}, nil
}

// Engine returns the wired engine, mainly for tests and embedding.
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Tracker returns the operation tracker.
func (d *Daemon) Tracker() *status.Tracker {
	return d.tracker
}

// Resolver returns the conflict resolver, for in-process manual
// resolution.
func (d *Daemon) Resolver() *conflict.Resolver {
	return d.resolver
}

// Run watches both roots and syncs until ctx is cancelled or Stop is
// called. Cancellation aborts in-flight operations; Stop drains them.
// Returns ctx's error on cancellation, nil on a drained stop.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.stopEarly {
		d.mu.Unlock()
		d.shutdown()
		return nil
	}
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon: already running")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.watcher.Start(); err != nil {
		d.shutdown()
		return fmt.Errorf("daemon: %w", err)
	}

	d.logger.Info("daemon started",
		"root_a", d.cfg.Sides.A.Root,
		"root_b", d.cfg.Sides.B.Root,
		"strategy", d.cfg.Conflicts.ParsedStrategy(),
	)

	if d.cfg.Watch.ScanOnStart {
		d.scanExisting()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.engine.Run(gctx) })
	g.Go(func() error { d.pumpEvents(gctx); return nil })
	g.Go(func() error { d.pumpErrors(gctx); return nil })

	err := g.Wait()
	d.shutdown()

	d.logger.Info("daemon stopped")
	return err
}

// Stop drains gracefully: the watcher stops emitting, the queue closes,
// and the engine finishes what it already accepted. Idempotent, and a
// no-op before Run.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.started {
		d.stopEarly = true
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	d.stopOnce.Do(func() {
		d.logger.Info("daemon draining")
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("stop watcher", "error", err)
		}
		d.engine.Stop()
	})
}

// shutdown releases everything Run acquired. Safe after a partial start.
func (d *Daemon) shutdown() {
	d.stopOnce.Do(func() {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("stop watcher", "error", err)
		}
		d.engine.Stop()
	})
	d.notifier.Close()
	d.tracker.Close()
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("close journal", "error", err)
		}
	}
}

// pumpEvents feeds debounced watcher changes into the queue.
func (d *Daemon) pumpEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			if !d.queue.Enqueue(ch) {
				d.logger.Warn("change dropped after queue close", "path", ch.Path)
			}
		}
	}
}

// pumpErrors surfaces watcher errors in the log. Watch errors are not
// fatal: the kernel can drop events under load and syncing continues on
// the next edit.
func (d *Daemon) pumpErrors(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.logger.Warn("watcher error", "error", err)
		}
	}
}

// scanExisting enqueues every matching file under both roots at low
// priority, so a cold store converges without waiting for edits. Files
// already in sync short-circuit in the engine as no-ops.
func (d *Daemon) scanExisting() {
	queued := 0
	sides := []struct {
		root string
		ext  string
		side ir.Side
	}{
		{d.cfg.Sides.A.Root, d.cfg.Sides.A.Extension, ir.SideA},
		{d.cfg.Sides.B.Root, d.cfg.Sides.B.Extension, ir.SideB},
	}

	for _, src := range sides {
		err := filepath.WalkDir(src.root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() || !strings.HasSuffix(path, src.ext) {
				return nil
			}
			content, readErr := os.ReadFile(path)
			if readErr != nil {
				d.logger.Warn("skipping unreadable file in initial scan", "path", path, "error", readErr)
				return nil
			}
			abs, absErr := filepath.Abs(path)
			if absErr != nil {
				return absErr
			}
			if d.queue.Enqueue(queue.Change{
				Path:       abs,
				Side:       src.side,
				Priority:   queue.PriorityLow,
				DetectedAt: time.Now(),
				Content:    content,
			}) {
				queued++
			}
			return nil
		})
		if err != nil {
			d.logger.Warn("initial scan incomplete", "root", src.root, "error", err)
		}
	}

	d.logger.Info("initial scan complete", "queued", queued)
}

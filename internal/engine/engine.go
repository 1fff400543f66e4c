// Package engine executes sync operations end to end: a changed source file
// is converted to IR, checked against concurrent opposite-side edits,
// validated, stored as a new version, and regenerated on the other side.
//
// One operation runs per logical unit at a time. A change arriving while the
// unit already has an operation in flight cancels the running one and takes
// its place, so only the latest content lands. Conversion and generation work
// is bounded by a worker pool; everything else is coordination.
package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/duplex/internal/cache"
	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/migrate"
	"github.com/roach88/duplex/internal/queue"
	"github.com/roach88/duplex/internal/status"
	"github.com/roach88/duplex/internal/store"
	"github.com/roach88/duplex/internal/watch"
)

// Engine drains the change queue and runs the sync pipeline for each change.
type Engine struct {
	queue  *queue.Queue
	store  *store.Store
	codecs *convert.Registry
	mapper *convert.Mapper

	cache         *cache.Cache // nil disables conversion caching
	validator     ir.Validator
	migrator      *migrate.Registry
	resolver      *conflict.Resolver
	detector      *conflict.Detector
	notifier      *conflict.Notifier
	tracker       *status.Tracker
	suppressor    *watch.Suppressor
	ids           IDGenerator
	retry         RetryPolicy
	workers       *semaphore.Weighted
	workerCount   int
	manualTimeout time.Duration // 0 waits forever on manual conflicts
	logger        *slog.Logger

	mu       sync.Mutex
	inflight map[string]*operation // by logical unit id
	wg       sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables conversion result caching.
func WithCache(c *cache.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithValidator replaces the structural validator, e.g. with the CUE-backed
// one. The same validator should be handed to the store so both layers agree.
func WithValidator(v ir.Validator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithMigrator replaces the default migration registry.
func WithMigrator(r *migrate.Registry) Option {
	return func(e *Engine) { e.migrator = r }
}

// WithResolver sets the conflict resolver. The engine adopts the resolver's
// detector, keeping both views of pending conflicts consistent.
func WithResolver(r *conflict.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithNotifier sets the conflict notifier.
func WithNotifier(n *conflict.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithTracker sets the operation status tracker.
func WithTracker(t *status.Tracker) Option {
	return func(e *Engine) { e.tracker = t }
}

// WithSuppressor sets the echo suppressor. Hand the watcher the same
// instance, otherwise regenerated files loop back as fresh changes.
func WithSuppressor(s *watch.Suppressor) Option {
	return func(e *Engine) { e.suppressor = s }
}

// WithIDGenerator replaces the UUIDv7 operation id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithRetryPolicy replaces the default IO retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(e *Engine) { e.retry = p }
}

// WithWorkers sets the worker pool size. Defaults to runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workerCount = n }
}

// WithManualTimeout bounds how long an operation waits for a manual conflict
// resolution before failing. Zero means wait until cancelled.
func WithManualTimeout(d time.Duration) Option {
	return func(e *Engine) { e.manualTimeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine draining q. The store, codec registry and path
// mapper are required; everything else has a working default.
func New(q *queue.Queue, st *store.Store, codecs *convert.Registry, mapper *convert.Mapper, opts ...Option) (*Engine, error) {
	if q == nil {
		return nil, errors.New("new engine: queue is required")
	}
	if st == nil {
		return nil, errors.New("new engine: store is required")
	}
	if codecs == nil {
		return nil, errors.New("new engine: codec registry is required")
	}
	if mapper == nil {
		return nil, errors.New("new engine: path mapper is required")
	}

	e := &Engine{
		queue:       q,
		store:       st,
		codecs:      codecs,
		mapper:      mapper,
		validator:   ir.StructuralValidator{},
		ids:         UUIDGenerator{},
		retry:       DefaultRetryPolicy(),
		workerCount: runtime.NumCPU(),
		logger:      slog.Default(),
		inflight:    make(map[string]*operation),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.migrator == nil {
		e.migrator = migrate.DefaultRegistry(migrate.WithLogger(e.logger))
	}
	if e.resolver == nil {
		det := conflict.NewDetector(0, conflict.WithDetectorLogger(e.logger))
		res, err := conflict.NewResolver(conflict.StrategyManual, det, conflict.WithResolverLogger(e.logger))
		if err != nil {
			return nil, err
		}
		e.resolver = res
	}
	e.detector = e.resolver.Detector()
	if e.notifier == nil {
		e.notifier = conflict.NewNotifier(conflict.WithNotifierLogger(e.logger))
	}
	if e.tracker == nil {
		e.tracker = status.NewTracker(status.WithLogger(e.logger))
	}
	if e.suppressor == nil {
		e.suppressor = watch.NewSuppressor(0)
	}
	if e.workerCount <= 0 {
		e.workerCount = runtime.NumCPU()
	}
	e.workers = semaphore.NewWeighted(int64(e.workerCount))
	return e, nil
}

// Tracker returns the status tracker operations report to.
func (e *Engine) Tracker() *status.Tracker {
	return e.tracker
}

// Resolver returns the conflict resolver, through which pending conflicts
// can be inspected and settled while the engine runs.
func (e *Engine) Resolver() *conflict.Resolver {
	return e.resolver
}

// Run drains the queue until ctx is cancelled or the queue is closed and
// empty. Queued changes are dispatched as operations; Run returns after
// every in-flight operation has finished.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("sync engine starting", "workers", e.workerCount)
	for {
		ch, ok := e.queue.TryDequeue()
		if ok {
			e.dispatch(ctx, ch)
			continue
		}
		if e.queue.Closed() {
			e.logger.Info("sync engine stopping: queue closed")
			e.wg.Wait()
			return nil
		}
		select {
		case <-ctx.Done():
			e.logger.Info("sync engine stopping: context cancelled")
			e.cancelInflight()
			e.wg.Wait()
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Stop closes the queue, letting Run drain what is left and return.
func (e *Engine) Stop() {
	e.queue.Close()
}

// dispatch turns a dequeued change into an operation. If the unit already
// has an operation in flight it is cancelled; the new one waits for it to
// wind down before starting, so a unit is never synced concurrently.
func (e *Engine) dispatch(ctx context.Context, ch queue.Change) {
	unit, side, err := e.mapper.LogicalID(ch.Path)
	if err != nil {
		e.logger.Warn("change outside mapped roots dropped", "path", ch.Path, "error", err)
		return
	}

	opCtx, cancel := context.WithCancel(ctx)
	op := &operation{
		id:         e.ids.Generate(),
		logicalID:  unit,
		side:       side,
		path:       ch.Path,
		content:    ch.Content,
		detectedAt: ch.DetectedAt,
		phase:      PhaseQueued,
		ctx:        opCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	if _, err := e.tracker.Track(op.id, unit, side); err != nil {
		e.logger.Error("track operation", "op", op.id, "error", err)
		cancel()
		return
	}

	e.mu.Lock()
	prev := e.inflight[unit]
	e.inflight[unit] = op
	e.mu.Unlock()

	if prev != nil {
		if prev.side == side {
			// A newer save of the same file: only the latest content
			// matters, so the running operation is cancelled.
			e.logger.Info("superseding in-flight operation",
				"unit", unit, "cancelled", prev.id, "op", op.id)
			prev.cancel()
		} else {
			// An opposite-side edit must run after the in-flight sync so
			// the conflict detector sees both edits in order.
			e.logger.Debug("serializing behind opposite-side sync",
				"unit", unit, "running", prev.id, "op", op.id)
		}
	}

	e.wg.Add(1)
	go e.runOperation(op, prev)
}

func (e *Engine) clearInflight(op *operation) {
	e.mu.Lock()
	if e.inflight[op.logicalID] == op {
		delete(e.inflight, op.logicalID)
	}
	e.mu.Unlock()
}

func (e *Engine) cancelInflight() {
	e.mu.Lock()
	for _, op := range e.inflight {
		op.cancel()
	}
	e.mu.Unlock()
}

// outcome is how an operation ended. err is non-nil only for failures.
type outcome struct {
	state status.State
	err   *SyncError
}

func failOutcome(serr *SyncError) outcome {
	if serr.Code == CodeCancelled {
		return outcome{state: status.StateCancelled}
	}
	return outcome{state: status.StateFailed, err: serr}
}

// runOperation is the goroutine body for one operation. It waits for the
// superseded predecessor, takes a worker slot, runs the pipeline and records
// the outcome.
func (e *Engine) runOperation(op *operation, prev *operation) {
	defer e.wg.Done()
	defer close(op.done)
	defer e.clearInflight(op)
	defer op.cancel()

	if prev != nil {
		select {
		case <-prev.done:
		case <-op.ctx.Done():
			e.finish(op, outcome{state: status.StateCancelled})
			return
		}
	}
	if err := e.workers.Acquire(op.ctx, 1); err != nil {
		e.finish(op, outcome{state: status.StateCancelled})
		return
	}
	holding := true
	defer func() {
		if holding {
			e.workers.Release(1)
		}
	}()

	if err := e.tracker.MarkRunning(op.id); err != nil {
		e.logger.Error("mark operation running", "op", op.id, "error", err)
	}
	e.finish(op, e.process(op, &holding))
}

// finish moves op to its terminal phase and records the outcome.
func (e *Engine) finish(op *operation, out outcome) {
	terminal := map[status.State]Phase{
		status.StateSucceeded:  PhaseSucceeded,
		status.StateConflicted: PhaseConflicted,
		status.StateFailed:     PhaseFailed,
		status.StateCancelled:  PhaseCancelled,
	}[out.state]
	if op.phase != terminal {
		if err := op.advance(terminal); err != nil {
			e.logger.Error("terminal transition", "op", op.id, "error", err)
			op.phase = terminal
		}
	}

	var opErr error
	if out.err != nil {
		opErr = out.err
	}
	if err := e.tracker.Complete(op.id, out.state, opErr); err != nil {
		e.logger.Error("complete operation", "op", op.id, "error", err)
	}

	switch out.state {
	case status.StateFailed:
		e.logger.Error("sync failed", "unit", op.logicalID, "op", op.id, "error", out.err)
	case status.StateCancelled:
		e.logger.Info("sync cancelled", "unit", op.logicalID, "op", op.id)
	case status.StateConflicted:
		e.logger.Warn("sync left conflicted", "unit", op.logicalID, "op", op.id)
	}
}

// process runs the pipeline phases for op and returns how it ended. The
// worker slot flag is threaded through so a manual conflict park can give
// the slot up while it waits.
func (e *Engine) process(op *operation, holding *bool) outcome {
	if op.ctx.Err() != nil {
		return outcome{state: status.StateCancelled}
	}

	// Converting.
	e.phase(op, PhaseConverting)
	doc, serr := e.convertSource(op)
	if serr != nil {
		return failOutcome(serr)
	}

	// Conflict check. The stored entry doubles as the no-op detector: a
	// change whose converted content matches the store is the echo of a
	// regeneration (or a duplicate save) and must not register as an edit.
	if op.ctx.Err() != nil {
		return outcome{state: status.StateCancelled}
	}
	e.phase(op, PhaseConflictCheck)
	cur, serr := e.currentEntry(op)
	if serr != nil {
		return failOutcome(serr)
	}
	sum, err := ir.Checksum(doc)
	if err != nil {
		return failOutcome(syncErr(CodeValidation, op.logicalID, op.path, "document not hashable", err))
	}
	if cur != nil && cur.Checksum == sum {
		e.logger.Info("change already in sync", "unit", op.logicalID, "op", op.id, "version", cur.Version)
		return outcome{state: status.StateSucceeded}
	}

	base := 0
	if cur != nil {
		base = cur.Version
	}
	writes := []ir.Side{op.side.Opposite()}
	rec := e.detector.Check(op.logicalID, conflict.Edit{
		Side:        op.side,
		Path:        op.path,
		DetectedAt:  op.detectedAt,
		BaseVersion: base,
	})
	if rec != nil && rec.Pending() {
		e.phase(op, PhaseConflicted)
		e.notifier.Notify(*rec)

		res, failed := e.settleConflict(op, rec, holding)
		if failed != nil {
			return *failed
		}
		if settled, ok := e.detector.Get(rec.ID); ok {
			e.notifier.Notify(settled)
		}

		switch {
		case res.Strategy == conflict.StrategySkip:
			e.logger.Warn("conflict skipped; sides remain divergent",
				"unit", op.logicalID, "conflict", rec.ID)
			return outcome{state: status.StateConflicted}
		case res.MergedIR != nil:
			merged, err := e.migrator.Migrate(*res.MergedIR, ir.CurrentSchemaVersion)
			if err != nil {
				return failOutcome(syncErr(CodeMigration, op.logicalID, op.path, "migrate merged document", err))
			}
			doc = merged
			// A merged document replaces both sides.
			writes = []ir.Side{ir.SideA, ir.SideB}
		case res.Winner == op.side:
			// This change won; carry on with its document.
		default:
			// The opposite side won: discard this change and regenerate
			// this side from the winner's current content.
			doc, serr = e.convertWinner(op)
			if serr != nil {
				return failOutcome(serr)
			}
			writes = []ir.Side{op.side}
		}
		if sum, err = ir.Checksum(doc); err != nil {
			return failOutcome(syncErr(CodeValidation, op.logicalID, op.path, "document not hashable", err))
		}
	}

	// Validating.
	if op.ctx.Err() != nil {
		return outcome{state: status.StateCancelled}
	}
	e.phase(op, PhaseValidating)
	if err := e.validator.ValidateStrict(doc); err != nil {
		return failOutcome(syncErr(CodeValidation, op.logicalID, op.path, "schema rejected document", err))
	}

	// Storing. A conflict resolved in favor of content that is already
	// stored skips the version bump but still regenerates the losing file.
	if op.ctx.Err() != nil {
		return outcome{state: status.StateCancelled}
	}
	e.phase(op, PhaseStoring)
	entry := cur
	if cur == nil || cur.Checksum != sum {
		var stored store.Entry
		serr = e.retryStage(op, "store", func() error {
			var err error
			stored, err = e.store.Store(op.logicalID, doc)
			if err != nil {
				return e.classifyStoreError(op, err)
			}
			return nil
		})
		if serr != nil {
			return failOutcome(serr)
		}
		entry = &stored
		e.detector.NoteSynced(op.logicalID, stored.Version)
		e.logger.Debug("ir stored", "unit", op.logicalID, "version", stored.Version)
	}

	// Generating. Past this point the store is ahead of the side files;
	// a failure leaves that divergence visible in the operation status.
	e.phase(op, PhaseGenerating)
	rendered := make(map[ir.Side][]byte, len(writes))
	for _, side := range writes {
		data, err := e.codecs.Generate(side, entry.IR)
		if err != nil {
			e.logger.Warn("store is ahead of side files", "unit", op.logicalID, "version", entry.Version)
			return failOutcome(syncErr(CodeGeneration, op.logicalID, e.mapper.Path(op.logicalID, side),
				"ir stored but source not regenerated", err))
		}
		rendered[side] = data
	}

	// Writing. Each file is registered with the suppressor first so the
	// watcher drops the resulting event instead of echoing it back.
	e.phase(op, PhaseWriting)
	for _, side := range writes {
		target := e.mapper.Path(op.logicalID, side)
		if existing, err := os.ReadFile(target); err == nil && bytes.Equal(existing, rendered[side]) {
			e.logger.Debug("target already current", "path", target)
			continue
		}
		e.suppressor.Register(target)
		data := rendered[side]
		serr = e.retryStage(op, "write", func() error {
			if err := writeFileAtomic(target, data); err != nil {
				return syncErr(CodeIO, op.logicalID, target, "write regenerated source", err)
			}
			return nil
		})
		if serr != nil {
			e.logger.Warn("store is ahead of side files", "unit", op.logicalID, "version", entry.Version)
			return failOutcome(serr)
		}
	}

	e.logger.Info("unit synced",
		"unit", op.logicalID, "op", op.id, "version", entry.Version, "side", op.side)
	return outcome{state: status.StateSucceeded}
}

// settleConflict obtains a resolution for rec, parking the operation when
// the strategy is manual. A non-nil outcome means the operation is over
// (timeout or cancellation) and should be returned as-is.
func (e *Engine) settleConflict(op *operation, rec *conflict.Record, holding *bool) (conflict.Resolution, *outcome) {
	res, err := e.resolver.Apply(rec.ID)
	if err != nil {
		out := failOutcome(syncErr(CodeValidation, op.logicalID, op.path, "apply conflict strategy", err))
		return conflict.Resolution{}, &out
	}
	if res != nil {
		return *res, nil
	}

	// Manual strategy: the operation parks until someone resolves the
	// record. The worker slot is returned for the duration so parked
	// conflicts cannot starve the pool.
	e.logger.Info("conflict awaiting manual resolution",
		"unit", op.logicalID, "conflict", rec.ID, "timeout", e.manualTimeout)
	waitCtx := op.ctx
	if e.manualTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(op.ctx, e.manualTimeout)
		defer cancel()
	}
	e.workers.Release(1)
	*holding = false

	settled, err := e.resolver.Wait(waitCtx, rec.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && op.ctx.Err() == nil {
			out := failOutcome(syncErr(CodeConflictTimeout, op.logicalID, op.path,
				"conflict resolution timed out", err))
			return conflict.Resolution{}, &out
		}
		out := outcome{state: status.StateCancelled}
		return conflict.Resolution{}, &out
	}
	if err := e.workers.Acquire(op.ctx, 1); err != nil {
		out := outcome{state: status.StateCancelled}
		return conflict.Resolution{}, &out
	}
	*holding = true
	return settled, nil
}

// convertSource turns op's content snapshot into a current-schema document,
// consulting the conversion cache when one is configured.
func (e *Engine) convertSource(op *operation) (ir.Document, *SyncError) {
	if e.cache != nil {
		if doc, ok := e.cache.GetIR(op.path); ok {
			e.logger.Debug("conversion cache hit", "path", op.path)
			return doc, nil
		}
	}
	doc, err := e.codecs.Convert(op.side, op.content, op.path)
	if err != nil {
		return ir.Document{}, syncErr(CodeParse, op.logicalID, op.path, "convert source", err)
	}
	doc, err = e.migrator.Migrate(doc, ir.CurrentSchemaVersion)
	if err != nil {
		return ir.Document{}, syncErr(CodeMigration, op.logicalID, op.path, "migrate document", err)
	}
	if e.cache != nil {
		e.cache.SetIR(op.path, doc)
	}
	return doc, nil
}

// convertWinner reads and converts the opposite side's file, used when a
// conflict resolved against this operation's change.
func (e *Engine) convertWinner(op *operation) (ir.Document, *SyncError) {
	oppPath, oppSide, err := e.mapper.OppositePath(op.path)
	if err != nil {
		return ir.Document{}, syncErr(CodeIO, op.logicalID, op.path, "locate winning side", err)
	}
	var content []byte
	serr := e.retryStage(op, "read-winner", func() error {
		data, err := os.ReadFile(oppPath)
		if err != nil {
			return syncErr(CodeIO, op.logicalID, oppPath, "read winning side", err)
		}
		content = data
		return nil
	})
	if serr != nil {
		return ir.Document{}, serr
	}
	doc, err := e.codecs.Convert(oppSide, content, oppPath)
	if err != nil {
		return ir.Document{}, syncErr(CodeParse, op.logicalID, oppPath, "convert winning side", err)
	}
	doc, err = e.migrator.Migrate(doc, ir.CurrentSchemaVersion)
	if err != nil {
		return ir.Document{}, syncErr(CodeMigration, op.logicalID, oppPath, "migrate winning side", err)
	}
	return doc, nil
}

// currentEntry loads the current stored version, nil when the unit has
// never been stored.
func (e *Engine) currentEntry(op *operation) (*store.Entry, *SyncError) {
	var entry *store.Entry
	serr := e.retryStage(op, "retrieve", func() error {
		cur, err := e.store.Retrieve(op.logicalID)
		if err != nil {
			return syncErr(CodeIO, op.logicalID, op.path, "read stored version", err)
		}
		entry = cur
		return nil
	})
	return entry, serr
}

func (e *Engine) classifyStoreError(op *operation, err error) *SyncError {
	switch {
	case ir.IsValidationFailure(err):
		return syncErr(CodeValidation, op.logicalID, op.path, "store rejected document", err)
	case migrate.IsNoPathError(err), migrate.IsCycleError(err):
		return syncErr(CodeMigration, op.logicalID, op.path, "store migration", err)
	default:
		return syncErr(CodeIO, op.logicalID, op.path, "store ir", err)
	}
}

// retryStage runs fn under the engine's retry policy. Context cancellation
// during backoff comes back as CodeCancelled.
func (e *Engine) retryStage(op *operation, stage string, fn func() error) *SyncError {
	err := e.retry.run(op.ctx, e.logger, stage, fn)
	if err == nil {
		return nil
	}
	var serr *SyncError
	if errors.As(err, &serr) {
		return serr
	}
	return syncErr(CodeCancelled, op.logicalID, op.path, "cancelled during "+stage, err)
}

// phase advances op and logs the transition.
func (e *Engine) phase(op *operation, next Phase) {
	if err := op.advance(next); err != nil {
		e.logger.Error("phase transition", "op", op.id, "error", err)
		op.phase = next
	}
	e.logger.Debug("operation phase", "op", op.id, "unit", op.logicalID, "phase", next)
}

// writeFileAtomic writes via temp file and rename so the watcher and any
// concurrent reader only ever see complete content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

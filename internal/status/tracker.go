package status

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// Handler receives operation snapshots after every transition.
type Handler func(Operation)

// Tracker is the in-memory operation registry. Safe for concurrent use.
//
// Each subscriber gets every event in order through its own dispatch
// goroutine and buffer, so one slow handler cannot make another miss or
// wait. The tracker is an explicitly constructed service object with a
// Close lifecycle, never a package singleton.
type Tracker struct {
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	ops    map[string]*Operation
	order  []string // insertion order for List
	stats  Stats
	subs   map[int]*subscriber
	nextID int
	closed bool

	wg sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithClock replaces the wall clock, for deterministic timestamps in tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		now:    time.Now,
		logger: slog.Default(),
		ops:    make(map[string]*Operation),
		subs:   make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track registers a new queued operation under the given id.
func (t *Tracker) Track(id, logicalID string, side ir.Side) (Operation, error) {
	t.mu.Lock()

	if _, exists := t.ops[id]; exists {
		t.mu.Unlock()
		return Operation{}, fmt.Errorf("track: operation %s already exists", id)
	}

	op := &Operation{
		ID:        id,
		LogicalID: logicalID,
		Side:      side,
		State:     StateQueued,
		StartedAt: t.now().UTC(),
	}
	t.ops[id] = op
	t.order = append(t.order, id)
	t.stats.Queued++
	snapshot := *op

	t.publishLocked(snapshot)
	t.mu.Unlock()
	return snapshot, nil
}

// MarkRunning moves a queued operation to running.
func (t *Tracker) MarkRunning(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok {
		return fmt.Errorf("mark running: unknown operation %s", id)
	}
	if op.State != StateQueued {
		return fmt.Errorf("mark running: operation %s is %s, not queued", id, op.State)
	}

	op.State = StateRunning
	t.stats.Queued--
	t.stats.InFlight++
	t.publishLocked(*op)
	return nil
}

// Complete moves an operation to a terminal state. Terminal operations are
// immutable: completing one again is an error, as is a non-terminal target
// state. err may be nil for succeeded, conflicted, and cancelled outcomes.
func (t *Tracker) Complete(id string, state State, opErr error) error {
	if !state.Terminal() {
		return fmt.Errorf("complete: %s is not a terminal state", state)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok {
		return fmt.Errorf("complete: unknown operation %s", id)
	}
	if op.State.Terminal() {
		return fmt.Errorf("complete: operation %s already terminal (%s)", id, op.State)
	}

	switch op.State {
	case StateQueued:
		t.stats.Queued--
	case StateRunning:
		t.stats.InFlight--
	}

	finished := t.now().UTC()
	op.State = state
	op.FinishedAt = &finished
	op.Err = opErr

	switch state {
	case StateSucceeded:
		t.stats.Succeeded++
	case StateConflicted:
		t.stats.Conflicted++
	case StateFailed:
		t.stats.Failed++
	case StateCancelled:
		t.stats.Cancelled++
	}

	t.publishLocked(*op)
	return nil
}

// Get returns a snapshot of one operation.
func (t *Tracker) Get(id string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// List returns snapshots of every tracked operation in creation order.
func (t *Tracker) List() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.ops[id])
	}
	return out
}

// ListByUnit returns snapshots for one logical unit, oldest first.
func (t *Tracker) ListByUnit(logicalID string) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Operation
	for _, id := range t.order {
		if t.ops[id].LogicalID == logicalID {
			out = append(out, *t.ops[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stats returns a snapshot of the aggregate counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// Subscribe registers a handler for every future transition and returns a
// token for Unsubscribe. Events reach each subscriber in order; a slow
// handler only delays itself.
func (t *Tracker) Subscribe(h Handler) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	token := t.nextID
	t.nextID++

	if t.closed {
		// A subscription on a closed tracker never fires.
		return token
	}

	sub := &subscriber{
		handler: h,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	t.subs[token] = sub

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		sub.dispatch()
	}()
	return token
}

// Unsubscribe removes a subscriber. Its handler finishes draining events
// already queued for it.
func (t *Tracker) Unsubscribe(token int) {
	t.mu.Lock()
	sub, ok := t.subs[token]
	if ok {
		delete(t.subs, token)
	}
	t.mu.Unlock()

	if ok {
		sub.stop()
	}
}

// Close stops every subscriber after letting them drain. Further
// transitions are not published. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.subs = make(map[int]*subscriber)
	t.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	t.wg.Wait()
}

func (t *Tracker) publishLocked(op Operation) {
	if t.closed {
		return
	}
	for _, sub := range t.subs {
		sub.push(op)
	}
}

// subscriber carries events to one handler through a private buffer so
// subscribers never block each other.
type subscriber struct {
	handler Handler

	mu     sync.Mutex
	buf    []Operation
	signal chan struct{}

	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber) push(op Operation) {
	s.mu.Lock()
	s.buf = append(s.buf, op)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber) dispatch() {
	for {
		select {
		case <-s.signal:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		if len(s.buf) == 0 {
			s.mu.Unlock()
			return
		}
		op := s.buf[0]
		s.buf[0] = Operation{}
		s.buf = s.buf[1:]
		s.mu.Unlock()

		s.handler(op)
	}
}

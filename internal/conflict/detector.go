package conflict

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/duplex/internal/ir"
)

// DefaultWindow is the conflict window: opposite-side edits further apart
// than this are ordinary sequential edits, not a conflict.
const DefaultWindow = time.Second

// ErrUnknownRecord is returned for conflict ids the detector never issued.
var ErrUnknownRecord = errors.New("unknown conflict record")

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithDetectorClock replaces the wall clock.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// WithDetectorIDs replaces the record id generator.
func WithDetectorIDs(gen func() string) DetectorOption {
	return func(d *Detector) { d.newID = gen }
}

// WithDetectorLogger replaces the default logger.
func WithDetectorLogger(l *slog.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// Detector tracks the latest edit per side per logical unit and flags
// pairs that land inside the conflict window. Safe for concurrent use.
//
// At most one pending record exists per unit: repeated checks while a
// conflict is pending return that same record rather than minting a new
// one. A successful sync reported through NoteSynced marks later
// regenerated content as derived, so the write-back of a resolution does
// not read as a fresh independent edit.
type Detector struct {
	window time.Duration
	now    func() time.Time
	newID  func() string
	logger *slog.Logger

	mu      sync.Mutex
	edits   map[string]map[ir.Side]Edit
	synced  map[string]int
	records map[string]*Record
	pending map[string]*Record
	done    map[string]chan struct{}
}

// NewDetector creates a detector with the given conflict window. A window
// of zero or below selects DefaultWindow.
func NewDetector(window time.Duration, opts ...DetectorOption) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Detector{
		window:  window,
		now:     time.Now,
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
		logger:  slog.Default(),
		edits:   make(map[string]map[ir.Side]Edit),
		synced:  make(map[string]int),
		records: make(map[string]*Record),
		pending: make(map[string]*Record),
		done:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured conflict window.
func (d *Detector) Window() time.Duration {
	return d.window
}

// Check records the incoming edit and reports whether it conflicts with
// the opposite side. It returns nil when there is no conflict, and the
// unit's existing pending record instead of a duplicate when one exists.
func (d *Detector) Check(logicalID string, incoming Edit) *Record {
	if !incoming.Side.Valid() {
		d.logger.Warn("conflict check with invalid side", "unit", logicalID, "side", string(incoming.Side))
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	byUnit := d.edits[logicalID]
	if byUnit == nil {
		byUnit = make(map[ir.Side]Edit)
		d.edits[logicalID] = byUnit
	}
	byUnit[incoming.Side] = incoming

	if rec := d.pending[logicalID]; rec != nil {
		s := snapshot(rec)
		return &s
	}

	opp, ok := byUnit[incoming.Side.Opposite()]
	if !ok {
		return nil
	}

	gap := incoming.DetectedAt.Sub(opp.DetectedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap >= d.window {
		return nil
	}

	// A sync newer than both base versions already reconciled the pair:
	// the opposite-side content derives from it.
	if v, ok := d.synced[logicalID]; ok && v > incoming.BaseVersion && v > opp.BaseVersion {
		return nil
	}

	rec := &Record{
		ID:         d.newID(),
		LogicalID:  logicalID,
		DetectedAt: d.now().UTC(),
		Status:     StatusPending,
	}
	if incoming.Side == ir.SideA {
		rec.ChangeA, rec.ChangeB = incoming, opp
	} else {
		rec.ChangeA, rec.ChangeB = opp, incoming
	}
	d.records[rec.ID] = rec
	d.pending[logicalID] = rec
	d.done[rec.ID] = make(chan struct{})

	d.logger.Warn("conflict detected",
		"unit", logicalID,
		"conflict", rec.ID,
		"gap", gap,
	)

	s := snapshot(rec)
	return &s
}

// NoteSynced records a successfully stored version for a unit. Versions
// only move forward.
func (d *Detector) NoteSynced(logicalID string, version int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if version > d.synced[logicalID] {
		d.synced[logicalID] = version
	}
}

// Get returns a copy of one record.
func (d *Detector) Get(id string) (Record, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return Record{}, false
	}
	return snapshot(rec), true
}

// Pending returns copies of all unresolved records, oldest first.
func (d *Detector) Pending() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, 0, len(d.pending))
	for _, rec := range d.pending {
		out = append(out, snapshot(rec))
	}
	sortRecords(out)
	return out
}

// List returns copies of every record the detector has issued, oldest
// first.
func (d *Detector) List() []Record {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Record, 0, len(d.records))
	for _, rec := range d.records {
		out = append(out, snapshot(rec))
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].DetectedAt.Equal(recs[j].DetectedAt) {
			return recs[i].DetectedAt.Before(recs[j].DetectedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}

// commit moves a record out of pending. Resolving an already-settled
// record is a no-op that returns it unchanged, which is what makes
// Resolve idempotent.
func (d *Detector) commit(id string, res Resolution, status Status) (Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.records[id]
	if !ok {
		return Record{}, fmt.Errorf("commit resolution %s: %w", id, ErrUnknownRecord)
	}
	if rec.Status != StatusPending {
		return snapshot(rec), nil
	}

	rec.Status = status
	resCopy := res
	rec.Resolution = &resCopy
	delete(d.pending, rec.LogicalID)
	if ch, ok := d.done[id]; ok {
		close(ch)
		delete(d.done, id)
	}
	return snapshot(rec), nil
}

// state returns a record copy plus the channel closed when it settles.
// The channel is nil for records that are already settled.
func (d *Detector) state(id string) (Record, <-chan struct{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return Record{}, nil, false
	}
	return snapshot(rec), d.done[id], true
}

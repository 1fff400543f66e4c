package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock replaces the wall clock.
func WithResolverClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// WithResolverLogger replaces the default logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// Resolver applies the configured strategy to pending records. It is the
// only component that moves a Record out of pending.
type Resolver struct {
	strategy Strategy
	det      *Detector
	now      func() time.Time
	logger   *slog.Logger
}

// NewResolver creates a resolver bound to the detector that issues the
// records it settles.
func NewResolver(strategy Strategy, det *Detector, opts ...ResolverOption) (*Resolver, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("new resolver: unknown strategy %q", strategy)
	}
	if det == nil {
		return nil, fmt.Errorf("new resolver: nil detector")
	}
	r := &Resolver{
		strategy: strategy,
		det:      det,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Detector returns the detector whose records this resolver settles.
func (r *Resolver) Detector() *Detector {
	return r.det
}

// Apply runs the configured strategy against one record. Automatic
// strategies settle the record and return its resolution; manual returns
// (nil, nil) to signal that the record stays parked for an external
// Resolve call. Applying to an already-settled record returns the
// existing resolution.
func (r *Resolver) Apply(recordID string) (*Resolution, error) {
	switch r.strategy {
	case StrategyManual:
		rec, ok := r.det.Get(recordID)
		if !ok {
			return nil, fmt.Errorf("apply %s: %w", recordID, ErrUnknownRecord)
		}
		if !rec.Pending() {
			return rec.Resolution, nil
		}
		return nil, nil

	case StrategyPreferA, StrategyPreferB:
		winner := ir.SideA
		if r.strategy == StrategyPreferB {
			winner = ir.SideB
		}
		res := Resolution{
			Strategy:   r.strategy,
			Winner:     winner,
			ResolvedAt: r.now().UTC(),
		}
		rec, err := r.det.commit(recordID, res, StatusResolved)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", recordID, err)
		}
		r.logger.Info("conflict auto-resolved",
			"conflict", recordID,
			"unit", rec.LogicalID,
			"winner", winner.String(),
		)
		return rec.Resolution, nil

	case StrategySkip:
		res := Resolution{
			Strategy:   StrategySkip,
			ResolvedAt: r.now().UTC(),
		}
		rec, err := r.det.commit(recordID, res, StatusSkipped)
		if err != nil {
			return nil, fmt.Errorf("apply %s: %w", recordID, err)
		}
		r.logger.Info("conflict skipped", "conflict", recordID, "unit", rec.LogicalID)
		return rec.Resolution, nil

	default:
		return nil, fmt.Errorf("apply %s: unknown strategy %q", recordID, r.strategy)
	}
}

// Resolve supplies an external resolution for a parked record: either a
// winning side or a hand-merged document, not both. Resolving a record
// that is already settled returns its existing resolution unchanged.
func (r *Resolver) Resolve(recordID string, res Resolution) (Resolution, error) {
	hasWinner := res.Winner.Valid()
	hasMerged := res.MergedIR != nil
	if !hasWinner && !hasMerged {
		return Resolution{}, fmt.Errorf("resolve %s: resolution needs a winning side or a merged document", recordID)
	}
	if hasWinner && hasMerged {
		return Resolution{}, fmt.Errorf("resolve %s: winning side and merged document are mutually exclusive", recordID)
	}

	res.Strategy = StrategyManual
	res.ResolvedAt = r.now().UTC()

	rec, err := r.det.commit(recordID, res, StatusResolved)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", recordID, err)
	}
	r.logger.Info("conflict resolved",
		"conflict", recordID,
		"unit", rec.LogicalID,
		"merged", rec.Resolution.MergedIR != nil,
	)
	return *rec.Resolution, nil
}

// Wait blocks until the record settles or the context ends. A record that
// is already settled returns immediately.
func (r *Resolver) Wait(ctx context.Context, recordID string) (Resolution, error) {
	rec, done, ok := r.det.state(recordID)
	if !ok {
		return Resolution{}, fmt.Errorf("wait %s: %w", recordID, ErrUnknownRecord)
	}
	if !rec.Pending() {
		return *rec.Resolution, nil
	}

	select {
	case <-done:
		rec, _, _ = r.det.state(recordID)
		return *rec.Resolution, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Package migrate upgrades IR documents between schema versions.
//
// Migrations form a linear chain: each registered step maps one fromVersion
// to one toVersion, and resolution repeatedly follows the single step whose
// fromVersion matches the document's current version until the target is
// reached. A bounded walk guards against accidentally registered cycles.
package migrate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/duplex/internal/ir"
)

// MaxSteps bounds the migration walk. A well-formed chain reaches any
// target in far fewer steps; exceeding the bound means an operator
// registered a cycle.
const MaxSteps = 100

// MigrateFunc transforms a document from one schema version to the next.
// The input is a value copy; implementations may mutate it freely.
type MigrateFunc func(doc ir.Document) (ir.Document, error)

type step struct {
	to int
	fn MigrateFunc
}

// Registry holds the registered migration steps, keyed by fromVersion.
// At most one step exists per fromVersion: the chain is linear by
// construction, and re-registering a fromVersion replaces the prior step.
type Registry struct {
	steps  map[int]step
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry. Most callers want DefaultRegistry,
// which includes the baseline normalization step.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{steps: make(map[int]step)}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// DefaultRegistry creates a registry with the baseline 0 -> 1 normalization
// step registered.
func DefaultRegistry(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	r.Register(0, 1, Baseline(nil))
	return r
}

// Register adds a migration step. Registering a fromVersion twice replaces
// the earlier step, since the chain admits only one step per version.
func (r *Registry) Register(from, to int, fn MigrateFunc) {
	if _, exists := r.steps[from]; exists {
		r.logger.Warn("replacing registered migration step", "from", from, "to", to)
	}
	r.steps[from] = step{to: to, fn: fn}
}

// Steps returns the number of registered steps.
func (r *Registry) Steps() int {
	return len(r.steps)
}

// Migrate walks the document from its current schema version to target,
// applying each step in order; the output of each step is the input to the
// next. The final document is structurally validated before being returned.
//
// Fails with NoPathError when no step matches the current version, and with
// CycleError when the walk exceeds MaxSteps.
func (r *Registry) Migrate(doc ir.Document, target int) (ir.Document, error) {
	start := doc.SchemaVersion

	applied := 0
	for doc.SchemaVersion != target {
		if applied >= MaxSteps {
			return ir.Document{}, &CycleError{
				Start:  start,
				Target: target,
				Steps:  applied,
				Limit:  MaxSteps,
			}
		}

		s, ok := r.steps[doc.SchemaVersion]
		if !ok {
			return ir.Document{}, &NoPathError{
				From:   doc.SchemaVersion,
				Start:  start,
				Target: target,
			}
		}

		next, err := s.fn(doc)
		if err != nil {
			return ir.Document{}, fmt.Errorf("migration step %d -> %d: %w", doc.SchemaVersion, s.to, err)
		}
		next.SchemaVersion = s.to
		doc = next
		applied++
	}

	if errs := ir.ValidateDocument(doc); len(errs) > 0 {
		result := ir.ValidationResult{Valid: false, Errors: errs}
		return ir.Document{}, fmt.Errorf("migrated document %d -> %d is invalid: %w", start, target, result.Err())
	}

	return doc, nil
}

// NoPathError reports that the chain has no step for a version reached
// during the walk.
type NoPathError struct {
	From   int // version with no registered step
	Start  int // version the walk began at
	Target int
}

// Error implements the error interface.
func (e *NoPathError) Error() string {
	return fmt.Sprintf("no migration path from version %d to %d: no step registered for version %d",
		e.Start, e.Target, e.From)
}

// IsNoPathError returns true if the error is a NoPathError.
// Uses errors.As to handle wrapped errors.
func IsNoPathError(err error) bool {
	var npe *NoPathError
	return errors.As(err, &npe)
}

// CycleError reports that the walk exceeded MaxSteps, which means the
// registered steps loop instead of converging on the target.
type CycleError struct {
	Start  int
	Target int
	Steps  int
	Limit  int
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("migration from version %d to %d exceeded %d steps: registered steps form a cycle",
		e.Start, e.Target, e.Limit)
}

// IsCycleError returns true if the error is a CycleError.
// Uses errors.As to handle wrapped errors.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

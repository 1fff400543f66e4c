// Package conflict detects concurrent opposite-side edits to the same
// logical unit and carries them to a resolution.
//
// A conflict is purely a timing call: two edits on opposite sides inside
// the window, with no successful sync newer than both edits' base
// versions, are flagged even if they would converge to identical IR.
// Detection creates a Record, the Notifier fans it out, and only the
// Resolver may move a Record out of pending.
package conflict

import (
	"fmt"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// Status is a conflict record's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusSkipped  Status = "skipped"
)

// Valid reports whether s is a defined status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusResolved, StatusSkipped:
		return true
	default:
		return false
	}
}

// Strategy selects how conflicts are resolved.
type Strategy string

const (
	// StrategyPreferA makes side A's edit authoritative.
	StrategyPreferA Strategy = "prefer-a"
	// StrategyPreferB makes side B's edit authoritative.
	StrategyPreferB Strategy = "prefer-b"
	// StrategyManual parks the record until an external Resolve call.
	StrategyManual Strategy = "manual"
	// StrategySkip leaves both files untouched and marks the record skipped.
	StrategySkip Strategy = "skip"
)

// Valid reports whether s is a defined strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPreferA, StrategyPreferB, StrategyManual, StrategySkip:
		return true
	default:
		return false
	}
}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", fmt.Errorf("parse strategy: unknown strategy %q", s)
	}
	return st, nil
}

// Edit describes one side's change as seen by the detector. BaseVersion is
// the stored IR version the edit was made against, 0 when the unit had
// never been stored.
type Edit struct {
	Side        ir.Side   `json:"side"`
	Path        string    `json:"path"`
	DetectedAt  time.Time `json:"detectedAt"`
	BaseVersion int       `json:"baseVersion"`
}

// Resolution is the outcome chosen for a conflict. Exactly one of Winner
// and MergedIR carries the authoritative content: Winner names the side
// whose edit proceeds, MergedIR supplies a hand-merged document.
type Resolution struct {
	Strategy   Strategy     `json:"strategy"`
	Winner     ir.Side      `json:"winner,omitempty"`
	MergedIR   *ir.Document `json:"mergedIr,omitempty"`
	ResolvedAt time.Time    `json:"resolvedAt"`
}

// Record is one detected conflict. Created by the Detector, mutated only
// by the Resolver; everything handed out of this package is a copy.
type Record struct {
	ID         string      `json:"id"`
	LogicalID  string      `json:"logicalId"`
	ChangeA    Edit        `json:"changeA"`
	ChangeB    Edit        `json:"changeB"`
	DetectedAt time.Time   `json:"detectedAt"`
	Status     Status      `json:"status"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Pending reports whether the record still awaits resolution.
func (r Record) Pending() bool {
	return r.Status == StatusPending
}

// Edit returns the recorded edit for one side.
func (r Record) Edit(side ir.Side) Edit {
	if side == ir.SideA {
		return r.ChangeA
	}
	return r.ChangeB
}

// snapshot copies a record so callers never share the detector's state.
// Documents hung off a resolution are treated as immutable and shared.
func snapshot(rec *Record) Record {
	out := *rec
	if rec.Resolution != nil {
		res := *rec.Resolution
		out.Resolution = &res
	}
	return out
}

// Package status tracks sync operations through their coarse lifecycle and
// fans transition events out to subscribers. One Operation is one attempt
// for one logical unit; retries and supersedes always create a new ID, so
// the map doubles as the audit trail.
package status

import (
	"encoding/json"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// State is an operation's coarse lifecycle state. The engine's internal
// pipeline phases collapse onto these for tracking.
type State string

const (
	StateQueued     State = "queued"
	StateRunning    State = "running"
	StateSucceeded  State = "succeeded"
	StateConflicted State = "conflicted"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateConflicted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a defined state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateConflicted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Operation is one tracked sync attempt. Values handed out by the tracker
// are copies; terminal operations never change.
type Operation struct {
	ID         string     `json:"id"`
	LogicalID  string     `json:"logicalId"`
	Side       ir.Side    `json:"side"`
	State      State      `json:"state"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Err        error      `json:"-"`
}

// MarshalJSON renders Err as a string alongside the regular fields, since
// error values do not marshal themselves.
func (o Operation) MarshalJSON() ([]byte, error) {
	type alias Operation
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(o)}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Stats aggregates the tracker's counters.
type Stats struct {
	Queued     int    `json:"queued"`
	InFlight   int    `json:"inFlight"`
	Succeeded  uint64 `json:"succeeded"`
	Conflicted uint64 `json:"conflicted"`
	Failed     uint64 `json:"failed"`
	Cancelled  uint64 `json:"cancelled"`
}

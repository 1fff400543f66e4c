package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/duplex/internal/ir"
)

// Phase is the fine-grained pipeline position of one sync operation. The
// status tracker exposes the coarse state; phases exist so logs and failure
// messages can say exactly where an operation was when something happened.
type Phase string

const (
	PhaseQueued        Phase = "queued"
	PhaseConverting    Phase = "converting"
	PhaseConflictCheck Phase = "conflict-check"
	PhaseConflicted    Phase = "conflicted"
	PhaseValidating    Phase = "validating"
	PhaseStoring       Phase = "storing"
	PhaseGenerating    Phase = "generating"
	PhaseWriting       Phase = "writing"
	PhaseSucceeded     Phase = "succeeded"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

// Terminal reports whether an operation resting in p is finished. Conflicted
// is deliberately absent: a conflicted operation may still resume into
// validating once a resolution arrives, and when it does stop there the
// tracker records the terminal state.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// transitions holds the allowed phase graph. Cancellation is reachable from
// every non-terminal phase; failure only from phases that do fallible work.
var transitions = map[Phase][]Phase{
	PhaseQueued:        {PhaseConverting, PhaseCancelled},
	PhaseConverting:    {PhaseConflictCheck, PhaseFailed, PhaseCancelled},
	PhaseConflictCheck: {PhaseConflicted, PhaseValidating, PhaseSucceeded, PhaseFailed, PhaseCancelled},
	PhaseConflicted:    {PhaseValidating, PhaseFailed, PhaseCancelled},
	PhaseValidating:    {PhaseStoring, PhaseFailed, PhaseCancelled},
	PhaseStoring:       {PhaseGenerating, PhaseFailed, PhaseCancelled},
	PhaseGenerating:    {PhaseWriting, PhaseFailed, PhaseCancelled},
	PhaseWriting:       {PhaseSucceeded, PhaseFailed, PhaseCancelled},
}

// CanTransition reports whether p may move to next.
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range transitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// operation is one in-flight sync of a logical unit. It lives on a single
// goroutine; only cancel is called from outside, so the struct needs no lock.
type operation struct {
	id         string
	logicalID  string
	side       ir.Side
	path       string
	content    []byte
	detectedAt time.Time

	phase  Phase
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{} // closed when the operation's goroutine exits
}

// advance moves the operation to next, enforcing the phase graph. A bad
// transition is a programming error in the pipeline, not an input problem.
func (o *operation) advance(next Phase) error {
	if !o.phase.CanTransition(next) {
		return fmt.Errorf("operation %s: illegal transition %s -> %s", o.id, o.phase, next)
	}
	o.phase = next
	return nil
}

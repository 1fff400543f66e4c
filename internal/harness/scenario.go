package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/status"
)

// Scenario describes one end-to-end sync session: a sequence of edits on
// the two source trees and the state the engine must converge to. Each
// scenario runs against a fresh engine over temporary roots.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Strategy selects the conflict resolution strategy
	// (prefer-a, prefer-b, manual, skip). Defaults to prefer-a.
	Strategy string `yaml:"strategy,omitempty"`

	// WindowMS is the conflict detection window in milliseconds.
	// Defaults to 1000.
	WindowMS int `yaml:"window_ms,omitempty"`

	// Steps execute in order. Each step holds exactly one action.
	Steps []Step `yaml:"steps"`

	// Expect is evaluated after the engine has drained every queued change.
	Expect Expect `yaml:"expect"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	Edit    *EditStep    `yaml:"edit,omitempty"`
	Await   *AwaitStep   `yaml:"await,omitempty"`
	Resolve *ResolveStep `yaml:"resolve,omitempty"`
}

// EditStep writes a source file and queues the change, the way the
// watcher hands the engine a debounced save.
type EditStep struct {
	// Unit is the logical id, e.g. "screens/home".
	Unit string `yaml:"unit"`

	// Side is "a" or "b".
	Side string `yaml:"side"`

	// AtMS is the edit's detection time as an offset from the scenario
	// epoch, in milliseconds. Offsets inside the conflict window of an
	// opposite-side edit produce a conflict; keep sequential edits
	// farther apart than window_ms.
	AtMS int `yaml:"at_ms"`

	// Props become the root node's props. Mappings lose their order in
	// YAML decoding, so props are applied in sorted key order.
	Props map[string]any `yaml:"props"`
}

// AwaitStep blocks until the unit has at least Ops terminal operations.
// Use it to sequence edits: an edit after an await is a plain follow-up,
// not a concurrent change.
type AwaitStep struct {
	Unit string `yaml:"unit"`
	Ops  int    `yaml:"ops"`
}

// ResolveStep settles the pending conflict for a unit. Exactly one of
// Use ("a" or "b") and Merge (root props of a hand-merged document) must
// be set. The step waits for the conflict to appear first, so it can
// directly follow the edits that cause it.
type ResolveStep struct {
	Unit  string         `yaml:"unit"`
	Use   string         `yaml:"use,omitempty"`
	Merge map[string]any `yaml:"merge,omitempty"`
}

// Expect lists the final-state checks. At least one list must be
// non-empty. All checks are evaluated; every failure is reported.
type Expect struct {
	Store      []StoreExpect     `yaml:"store,omitempty"`
	Files      []FileExpect      `yaml:"files,omitempty"`
	Conflicts  []ConflictExpect  `yaml:"conflicts,omitempty"`
	Operations []OperationExpect `yaml:"operations,omitempty"`
}

// StoreExpect checks the stored entry for a unit: the version must match
// exactly, and each listed prop must equal the root node's prop (subset
// semantics, extra props are ignored).
type StoreExpect struct {
	Unit    string         `yaml:"unit"`
	Version int            `yaml:"version"`
	Props   map[string]any `yaml:"props,omitempty"`
}

// FileExpect parses the on-disk file for a unit/side and checks root
// props with subset semantics.
type FileExpect struct {
	Unit  string         `yaml:"unit"`
	Side  string         `yaml:"side"`
	Props map[string]any `yaml:"props,omitempty"`
}

// ConflictExpect requires a conflict record for the unit with the given
// status (pending, resolved, skipped) and, when Winner is set, that side
// as the resolution winner.
type ConflictExpect struct {
	Unit   string `yaml:"unit"`
	Status string `yaml:"status"`
	Winner string `yaml:"winner,omitempty"`
}

// OperationExpect checks the unit's operations in tracker order: the
// terminal states must match States exactly, in order.
type OperationExpect struct {
	Unit   string   `yaml:"unit"`
	States []string `yaml:"states"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly instead of silently skipping a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Strategy != "" {
		if _, err := conflict.ParseStrategy(s.Strategy); err != nil {
			return err
		}
	}
	if s.WindowMS < 0 {
		return fmt.Errorf("window_ms must not be negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	return validateExpect(&s.Expect)
}

func validateStep(index int, step Step) error {
	set := 0
	if step.Edit != nil {
		set++
	}
	if step.Await != nil {
		set++
	}
	if step.Resolve != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of edit, await, resolve must be set", index)
	}

	switch {
	case step.Edit != nil:
		e := step.Edit
		if e.Unit == "" {
			return fmt.Errorf("steps[%d].edit: unit is required", index)
		}
		if !ir.Side(e.Side).Valid() {
			return fmt.Errorf("steps[%d].edit: side must be a or b, got %q", index, e.Side)
		}
		if e.AtMS < 0 {
			return fmt.Errorf("steps[%d].edit: at_ms must not be negative", index)
		}
		if e.Props == nil {
			return fmt.Errorf("steps[%d].edit: props is required (use an empty map for none)", index)
		}
	case step.Await != nil:
		a := step.Await
		if a.Unit == "" {
			return fmt.Errorf("steps[%d].await: unit is required", index)
		}
		if a.Ops < 1 {
			return fmt.Errorf("steps[%d].await: ops must be at least 1", index)
		}
	case step.Resolve != nil:
		r := step.Resolve
		if r.Unit == "" {
			return fmt.Errorf("steps[%d].resolve: unit is required", index)
		}
		hasUse := r.Use != ""
		hasMerge := r.Merge != nil
		if hasUse == hasMerge {
			return fmt.Errorf("steps[%d].resolve: exactly one of use, merge must be set", index)
		}
		if hasUse && !ir.Side(r.Use).Valid() {
			return fmt.Errorf("steps[%d].resolve: use must be a or b, got %q", index, r.Use)
		}
	}
	return nil
}

func validateExpect(e *Expect) error {
	if len(e.Store)+len(e.Files)+len(e.Conflicts)+len(e.Operations) == 0 {
		return fmt.Errorf("expect must list at least one check")
	}
	for i, se := range e.Store {
		if se.Unit == "" {
			return fmt.Errorf("expect.store[%d]: unit is required", i)
		}
		if se.Version < 1 {
			return fmt.Errorf("expect.store[%d]: version must be at least 1", i)
		}
	}
	for i, fe := range e.Files {
		if fe.Unit == "" {
			return fmt.Errorf("expect.files[%d]: unit is required", i)
		}
		if !ir.Side(fe.Side).Valid() {
			return fmt.Errorf("expect.files[%d]: side must be a or b, got %q", i, fe.Side)
		}
	}
	for i, ce := range e.Conflicts {
		if ce.Unit == "" {
			return fmt.Errorf("expect.conflicts[%d]: unit is required", i)
		}
		if !conflict.Status(ce.Status).Valid() {
			return fmt.Errorf("expect.conflicts[%d]: unknown status %q", i, ce.Status)
		}
		if ce.Winner != "" && !ir.Side(ce.Winner).Valid() {
			return fmt.Errorf("expect.conflicts[%d]: winner must be a or b, got %q", i, ce.Winner)
		}
	}
	for i, oe := range e.Operations {
		if oe.Unit == "" {
			return fmt.Errorf("expect.operations[%d]: unit is required", i)
		}
		if len(oe.States) == 0 {
			return fmt.Errorf("expect.operations[%d]: states list is required and must be non-empty", i)
		}
		for j, st := range oe.States {
			if !status.State(st).Valid() {
				return fmt.Errorf("expect.operations[%d].states[%d]: unknown state %q", i, j, st)
			}
		}
	}
	return nil
}

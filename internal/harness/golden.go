package harness

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/duplex/internal/ir"
)

// Summary is the deterministic final state of a scenario run: stored
// versions, root props, and conflict outcomes per unit. It deliberately
// excludes wall-clock times, operation ids, and checksums so the same
// scenario always serializes to the same bytes.
type Summary struct {
	Scenario string        `json:"scenario"`
	Units    []UnitSummary `json:"units"`
}

// UnitSummary captures one unit's converged state. Version is 0 when
// nothing was stored (for example when every edit failed to parse).
type UnitSummary struct {
	Unit      string            `json:"unit"`
	Version   int               `json:"version"`
	RootProps map[string]string `json:"rootProps,omitempty"`
	Conflicts []ConflictSummary `json:"conflicts,omitempty"`
}

// ConflictSummary is one conflict record's outcome.
type ConflictSummary struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
}

// summarize builds the Summary from the quiescent session. Units are
// the ones the scenario edited, sorted for stable output.
func (s *session) summarize() (Summary, error) {
	seen := make(map[string]bool)
	for _, step := range s.scenario.Steps {
		if step.Edit != nil {
			seen[step.Edit.Unit] = true
		}
	}
	units := make([]string, 0, len(seen))
	for unit := range seen {
		units = append(units, unit)
	}
	sort.Strings(units)

	summary := Summary{Scenario: s.scenario.Name, Units: make([]UnitSummary, 0, len(units))}
	for _, unit := range units {
		us := UnitSummary{Unit: unit}

		entry, err := s.store.Retrieve(unit)
		if err != nil {
			return Summary{}, fmt.Errorf("summarize unit %s: %w", unit, err)
		}
		if entry != nil {
			us.Version = entry.Version
			if len(entry.IR.Nodes) > 0 {
				us.RootProps = stringifyProps(entry.IR.Nodes[0].Props)
			}
		}

		for _, rec := range s.detector.List() {
			if rec.LogicalID != unit {
				continue
			}
			cs := ConflictSummary{Status: string(rec.Status)}
			if rec.Resolution != nil {
				cs.Winner = string(rec.Resolution.Winner)
			}
			us.Conflicts = append(us.Conflicts, cs)
		}

		summary.Units = append(summary.Units, us)
	}
	return summary, nil
}

func stringifyProps(props *ir.IRObject) map[string]string {
	if props.Len() == 0 {
		return nil
	}
	out := make(map[string]string, props.Len())
	for _, k := range props.Keys() {
		v, _ := props.Get(k)
		out[k] = formatValue(v)
	}
	return out
}

// formatValue renders an IR value as a plain string for summaries and
// failure messages.
func formatValue(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRNull:
		return "null"
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return strconv.FormatInt(int64(val), 10)
	case ir.IRFloat:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case ir.IRBool:
		return strconv.FormatBool(bool(val))
	default:
		data, err := ir.MarshalIRValue(v)
		if err != nil {
			return fmt.Sprintf("<unprintable: %v>", err)
		}
		return string(data)
	}
}

// RunWithGolden executes a scenario and compares its final-state summary
// against testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(result.Summary, "", "  ")
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}

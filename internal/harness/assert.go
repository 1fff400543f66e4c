package harness

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/ir"
)

// AssertionError is one failed expect check, formatted so the expected
// and actual state line up visually.
type AssertionError struct {
	Kind     string // which expect list the check came from
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s check failed:\n  expected: %s\n  actual:   %s", e.Kind, e.Expected, e.Actual)
}

// evaluate runs every expect check and returns the failure messages.
// Checks are independent; one failure does not stop the rest.
func (s *session) evaluate(expect Expect) []string {
	var errs []string
	record := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	for _, se := range expect.Store {
		record(s.checkStore(se))
	}
	for _, fe := range expect.Files {
		record(s.checkFile(fe))
	}
	for _, ce := range expect.Conflicts {
		record(s.checkConflict(ce))
	}
	for _, oe := range expect.Operations {
		record(s.checkOperations(oe))
	}
	return errs
}

func (s *session) checkStore(se StoreExpect) error {
	entry, err := s.store.Retrieve(se.Unit)
	if err != nil {
		return &AssertionError{
			Kind:     "store",
			Expected: fmt.Sprintf("unit %s at version %d", se.Unit, se.Version),
			Actual:   fmt.Sprintf("retrieve failed: %v", err),
		}
	}
	if entry == nil {
		return &AssertionError{
			Kind:     "store",
			Expected: fmt.Sprintf("unit %s at version %d", se.Unit, se.Version),
			Actual:   "no stored entry",
		}
	}
	if entry.Version != se.Version {
		return &AssertionError{
			Kind:     "store",
			Expected: fmt.Sprintf("unit %s at version %d", se.Unit, se.Version),
			Actual:   fmt.Sprintf("version %d", entry.Version),
		}
	}
	if err := matchRootProps(se.Props, entry.IR); err != nil {
		return &AssertionError{
			Kind:     "store",
			Expected: fmt.Sprintf("unit %s root props %v", se.Unit, se.Props),
			Actual:   err.Error(),
		}
	}
	return nil
}

func (s *session) checkFile(fe FileExpect) error {
	side := ir.Side(fe.Side)
	path := s.mapper.Path(fe.Unit, side)
	data, err := os.ReadFile(path)
	if err != nil {
		return &AssertionError{
			Kind:     "files",
			Expected: fmt.Sprintf("parseable file for unit %s side %s", fe.Unit, fe.Side),
			Actual:   fmt.Sprintf("read failed: %v", err),
		}
	}
	doc, err := s.registry.Convert(side, data, path)
	if err != nil {
		return &AssertionError{
			Kind:     "files",
			Expected: fmt.Sprintf("parseable file for unit %s side %s", fe.Unit, fe.Side),
			Actual:   fmt.Sprintf("convert failed: %v", err),
		}
	}
	if err := matchRootProps(fe.Props, doc); err != nil {
		return &AssertionError{
			Kind:     "files",
			Expected: fmt.Sprintf("unit %s side %s root props %v", fe.Unit, fe.Side, fe.Props),
			Actual:   err.Error(),
		}
	}
	return nil
}

func (s *session) checkConflict(ce ConflictExpect) error {
	var unitRecs []conflict.Record
	for _, rec := range s.detector.List() {
		if rec.LogicalID == ce.Unit {
			unitRecs = append(unitRecs, rec)
		}
	}

	want := fmt.Sprintf("conflict for unit %s with status %s", ce.Unit, ce.Status)
	if ce.Winner != "" {
		want += fmt.Sprintf(" and winner %s", ce.Winner)
	}

	for _, rec := range unitRecs {
		if string(rec.Status) != ce.Status {
			continue
		}
		if ce.Winner == "" {
			return nil
		}
		if rec.Resolution != nil && string(rec.Resolution.Winner) == ce.Winner {
			return nil
		}
	}

	return &AssertionError{
		Kind:     "conflicts",
		Expected: want,
		Actual:   describeRecords(unitRecs),
	}
}

func (s *session) checkOperations(oe OperationExpect) error {
	ops := s.eng.Tracker().ListByUnit(oe.Unit)
	actual := make([]string, len(ops))
	for i, op := range ops {
		actual[i] = string(op.State)
	}

	if len(actual) != len(oe.States) {
		return &AssertionError{
			Kind:     "operations",
			Expected: fmt.Sprintf("unit %s states %v", oe.Unit, oe.States),
			Actual:   fmt.Sprintf("states %v", actual),
		}
	}
	for i := range actual {
		if actual[i] != oe.States[i] {
			return &AssertionError{
				Kind:     "operations",
				Expected: fmt.Sprintf("unit %s states %v", oe.Unit, oe.States),
				Actual:   fmt.Sprintf("states %v", actual),
			}
		}
	}
	return nil
}

// matchRootProps checks expected props against the document's root node
// with subset semantics: listed props must match, extra props are fine.
func matchRootProps(props map[string]any, doc ir.Document) error {
	if len(props) == 0 {
		return nil
	}
	if len(doc.Nodes) == 0 {
		return fmt.Errorf("document has no nodes")
	}
	root := doc.Nodes[0]

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want, err := convertValue(props[k])
		if err != nil {
			return fmt.Errorf("prop %q: %w", k, err)
		}
		got, ok := root.Props.Get(k)
		if !ok {
			return fmt.Errorf("prop %q missing", k)
		}
		if !ir.EqualValues(want, got) {
			return fmt.Errorf("prop %q is %s", k, formatValue(got))
		}
	}
	return nil
}

func describeRecords(recs []conflict.Record) string {
	if len(recs) == 0 {
		return "no conflict records"
	}
	parts := make([]string, len(recs))
	for i, rec := range recs {
		part := string(rec.Status)
		if rec.Resolution != nil && rec.Resolution.Winner != "" {
			part += fmt.Sprintf(" (winner %s)", rec.Resolution.Winner)
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

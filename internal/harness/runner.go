package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/engine"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/queue"
	"github.com/roach88/duplex/internal/status"
	"github.com/roach88/duplex/internal/store"
	"github.com/roach88/duplex/internal/testutil"
)

// scenarioEpoch anchors every at_ms offset. A fixed instant keeps edit
// timestamps, and therefore conflict-window arithmetic, identical across
// runs.
var scenarioEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// stepTimeout bounds await and resolve steps; drainTimeout bounds the
// final queue drain. Generous so loaded CI machines do not flake.
const (
	stepTimeout  = 5 * time.Second
	drainTimeout = 10 * time.Second
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect check matched.
	Pass bool `json:"pass"`

	// Errors lists the failed checks. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Summary is the deterministic final state, used for golden
	// comparison.
	Summary Summary `json:"summary"`
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// session holds the wired components for one scenario run.
type session struct {
	scenario *Scenario
	mapper   *convert.Mapper
	registry *convert.Registry
	store    *store.Store
	detector *conflict.Detector
	resolver *conflict.Resolver
	queue    *queue.Queue
	eng      *engine.Engine
}

// Run executes a scenario against a fresh engine over temporary roots
// and returns the evaluated result. An error means the scenario could
// not be executed; failed expectations are reported via Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	tmp, err := os.MkdirTemp("", "duplex-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create scenario workspace: %w", err)
	}
	defer os.RemoveAll(tmp)

	s, err := newSession(scenario, tmp)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() {
		runDone <- s.eng.Run(ctx)
	}()

	for i, step := range scenario.Steps {
		if err := s.executeStep(i, step); err != nil {
			cancel()
			<-runDone
			return nil, err
		}
	}

	// Close the queue and let the engine drain everything still queued,
	// so expectations see a quiescent engine. A drain timeout usually
	// means a manual conflict was left unresolved.
	s.queue.Close()
	select {
	case err := <-runDone:
		if err != nil {
			return nil, fmt.Errorf("engine run: %w", err)
		}
	case <-time.After(drainTimeout):
		cancel()
		<-runDone
		return nil, fmt.Errorf("engine did not drain after %s; is a manual conflict left unresolved?", drainTimeout)
	}

	result := &Result{Pass: true}
	for _, msg := range s.evaluate(scenario.Expect) {
		result.AddError(msg)
	}
	summary, err := s.summarize()
	if err != nil {
		return nil, err
	}
	result.Summary = summary
	return result, nil
}

func newSession(scenario *Scenario, tmp string) (*session, error) {
	rootA := filepath.Join(tmp, "a")
	rootB := filepath.Join(tmp, "b")
	for _, root := range []string{rootA, rootB} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create side root: %w", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mapper, err := convert.NewMapper(rootA, rootB, ".jsx", ".widget")
	if err != nil {
		return nil, err
	}
	st, err := store.Open(filepath.Join(tmp, "store"), store.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	strategy := conflict.StrategyPreferA
	if scenario.Strategy != "" {
		strategy, err = conflict.ParseStrategy(scenario.Strategy)
		if err != nil {
			return nil, err
		}
	}
	window := conflict.DefaultWindow
	if scenario.WindowMS > 0 {
		window = time.Duration(scenario.WindowMS) * time.Millisecond
	}

	detector := conflict.NewDetector(window,
		conflict.WithDetectorLogger(logger),
		conflict.WithDetectorIDs(testutil.NewFixedIDs("conflict").Generate),
	)
	resolver, err := conflict.NewResolver(strategy, detector, conflict.WithResolverLogger(logger))
	if err != nil {
		return nil, err
	}

	registry := convert.DefaultRegistry()
	q := queue.New()
	eng, err := engine.New(q, st, registry, mapper,
		engine.WithLogger(logger),
		engine.WithResolver(resolver),
		engine.WithWorkers(4),
		engine.WithRetryPolicy(engine.RetryPolicy{Attempts: 2, Backoff: time.Millisecond, Multiplier: 2}),
		engine.WithIDGenerator(testutil.NewFixedIDs("op")),
	)
	if err != nil {
		return nil, err
	}

	return &session{
		scenario: scenario,
		mapper:   mapper,
		registry: registry,
		store:    st,
		detector: detector,
		resolver: resolver,
		queue:    q,
		eng:      eng,
	}, nil
}

func (s *session) executeStep(index int, step Step) error {
	switch {
	case step.Edit != nil:
		return s.executeEdit(index, step.Edit)
	case step.Await != nil:
		return s.executeAwait(index, step.Await)
	case step.Resolve != nil:
		return s.executeResolve(index, step.Resolve)
	default:
		return fmt.Errorf("steps[%d]: empty step", index)
	}
}

func (s *session) executeEdit(index int, edit *EditStep) error {
	side := ir.Side(edit.Side)
	doc, err := buildDocument(side, edit.Props)
	if err != nil {
		return fmt.Errorf("steps[%d].edit: %w", index, err)
	}
	content, err := s.registry.Generate(side, doc)
	if err != nil {
		return fmt.Errorf("steps[%d].edit: generate source: %w", index, err)
	}

	path := s.mapper.Path(edit.Unit, side)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("steps[%d].edit: %w", index, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("steps[%d].edit: %w", index, err)
	}

	ok := s.queue.Enqueue(queue.Change{
		Path:       path,
		Side:       side,
		Priority:   queue.PriorityNormal,
		DetectedAt: scenarioEpoch.Add(time.Duration(edit.AtMS) * time.Millisecond),
		Content:    content,
	})
	if !ok {
		return fmt.Errorf("steps[%d].edit: queue rejected the change", index)
	}
	return nil
}

func (s *session) executeAwait(index int, await *AwaitStep) error {
	ok := waitFor(stepTimeout, func() bool {
		ops := s.eng.Tracker().ListByUnit(await.Unit)
		if len(ops) < await.Ops {
			return false
		}
		for _, op := range ops {
			if !op.State.Terminal() {
				return false
			}
		}
		return true
	})
	if !ok {
		return fmt.Errorf("steps[%d].await: unit %s did not reach %d terminal operation(s) within %s (current: %s)",
			index, await.Unit, await.Ops, stepTimeout, describeOps(s.eng.Tracker().ListByUnit(await.Unit)))
	}
	return nil
}

func (s *session) executeResolve(index int, resolve *ResolveStep) error {
	var rec conflict.Record
	ok := waitFor(stepTimeout, func() bool {
		for _, r := range s.detector.Pending() {
			if r.LogicalID == resolve.Unit {
				rec = r
				return true
			}
		}
		return false
	})
	if !ok {
		return fmt.Errorf("steps[%d].resolve: no pending conflict for unit %s within %s", index, resolve.Unit, stepTimeout)
	}

	var res conflict.Resolution
	if resolve.Use != "" {
		res.Winner = ir.Side(resolve.Use)
	} else {
		merged, err := buildDocument(ir.SideA, resolve.Merge)
		if err != nil {
			return fmt.Errorf("steps[%d].resolve: %w", index, err)
		}
		res.MergedIR = &merged
	}
	if _, err := s.resolver.Resolve(rec.ID, res); err != nil {
		return fmt.Errorf("steps[%d].resolve: %w", index, err)
	}
	return nil
}

// buildDocument shapes props into the single-screen document the
// scenario format describes: one root Screen node carrying the props.
func buildDocument(side ir.Side, props map[string]any) (ir.Document, error) {
	obj, err := convertProps(props)
	if err != nil {
		return ir.Document{}, err
	}
	return ir.Document{
		SchemaVersion: ir.CurrentSchemaVersion,
		Metadata:      ir.DocumentMeta{SourceKind: side.SourceKind()},
		Nodes: []ir.Node{{
			ID:       "root",
			Type:     "Screen",
			Props:    obj,
			Children: []ir.Node{},
		}},
	}, nil
}

// convertProps converts a YAML-decoded mapping into an ordered IR
// object. Go maps have no order, so keys are applied sorted.
func convertProps(props map[string]any) (*ir.IRObject, error) {
	obj := ir.NewIRObject()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		val, err := convertValue(props[k])
		if err != nil {
			return nil, fmt.Errorf("prop %q: %w", k, err)
		}
		obj.Set(k, val)
	}
	return obj, nil
}

// convertValue converts a YAML-decoded value into an IR value.
func convertValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case nil:
		return ir.IRNull{}, nil
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRInt(int64(v)), nil
	case int64:
		return ir.IRInt(v), nil
	case float64:
		return ir.IRFloat(v), nil
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			converted, err := convertValue(elem)
			if err != nil {
				return nil, fmt.Errorf("list[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		return convertProps(v)
	default:
		return nil, fmt.Errorf("unsupported value type %T", val)
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func describeOps(ops []status.Operation) string {
	if len(ops) == 0 {
		return "no operations"
	}
	states := make([]string, len(ops))
	for i, op := range ops {
		states[i] = string(op.State)
	}
	return fmt.Sprintf("%d operation(s): %v", len(ops), states)
}

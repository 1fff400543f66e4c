// Package harness runs end-to-end sync scenarios against a real engine.
//
// A scenario is a YAML file describing a sequence of edits on the two
// source trees and the state the engine must converge to. Each run wires
// a fresh engine (store, detector, resolver, queue) over temporary
// roots, executes the steps, drains the queue, and evaluates the expect
// checks against the quiescent final state.
//
// # Scenario Format
//
//	name: conflict_prefer_a
//	description: "Concurrent opposite edits keep side A's content."
//	strategy: prefer-a
//	window_ms: 1000
//	steps:
//	  - edit: {unit: screens/home, side: a, at_ms: 0, props: {title: A title}}
//	  - await: {unit: screens/home, ops: 1}
//	  - edit: {unit: screens/home, side: b, at_ms: 100, props: {title: B title}}
//	expect:
//	  store:
//	    - {unit: screens/home, version: 1, props: {title: A title}}
//	  files:
//	    - {unit: screens/home, side: b, props: {title: A title}}
//	  conflicts:
//	    - {unit: screens/home, status: resolved, winner: a}
//
// # Steps
//
// Each step holds exactly one action:
//
//   - edit: write a source file and queue the change. at_ms places the
//     edit on the scenario's time axis; two opposite-side edits within
//     window_ms of each other conflict.
//   - await: block until the unit has N terminal operations. Use it to
//     make a later edit a sequential follow-up instead of a concurrent
//     change.
//   - resolve: settle the pending conflict for a unit, either by naming
//     the winning side (use: a) or by supplying merged root props.
//
// # Expect Checks
//
//   - store: stored version and root props for a unit
//   - files: root props parsed back from the on-disk file of one side
//   - conflicts: a conflict record with a given status and winner
//   - operations: the unit's operation states in tracker order
//
// # Determinism
//
// Scenarios run with fixed operation and conflict ids, a fixed time
// epoch for at_ms offsets, and sorted prop application, so a scenario's
// final-state summary serializes to identical bytes across runs. That
// summary is what RunWithGolden snapshots.
package harness

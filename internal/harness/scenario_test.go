package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenarioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenarioValid(t *testing.T) {
	path := writeScenarioFile(t, `
name: basic
description: "One edit syncs across."
steps:
  - edit: {unit: screens/home, side: a, at_ms: 0, props: {title: Home}}
  - await: {unit: screens/home, ops: 1}
expect:
  store:
    - {unit: screens/home, version: 1, props: {title: Home}}
  files:
    - {unit: screens/home, side: b, props: {title: Home}}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "basic", scenario.Name)
	assert.Empty(t, scenario.Strategy)
	assert.Zero(t, scenario.WindowMS)

	require.Len(t, scenario.Steps, 2)
	require.NotNil(t, scenario.Steps[0].Edit)
	assert.Equal(t, "screens/home", scenario.Steps[0].Edit.Unit)
	assert.Equal(t, "a", scenario.Steps[0].Edit.Side)
	assert.Equal(t, map[string]any{"title": "Home"}, scenario.Steps[0].Edit.Props)
	require.NotNil(t, scenario.Steps[1].Await)
	assert.Equal(t, 1, scenario.Steps[1].Await.Ops)

	require.Len(t, scenario.Expect.Store, 1)
	assert.Equal(t, 1, scenario.Expect.Store[0].Version)
	require.Len(t, scenario.Expect.Files, 1)
	assert.Equal(t, "b", scenario.Expect.Files[0].Side)
}

func TestLoadScenarioStrategyAndWindow(t *testing.T) {
	path := writeScenarioFile(t, `
name: tuned
description: "Manual strategy with a tight window."
strategy: manual
window_ms: 250
steps:
  - edit: {unit: screens/home, side: a, at_ms: 0, props: {title: Home}}
  - resolve: {unit: screens/home, use: a}
expect:
  conflicts:
    - {unit: screens/home, status: resolved, winner: a}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "manual", scenario.Strategy)
	assert.Equal(t, 250, scenario.WindowMS)
	require.NotNil(t, scenario.Steps[1].Resolve)
	assert.Equal(t, "a", scenario.Steps[1].Resolve.Use)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read scenario file")
}

func TestLoadScenarioRejectsUnknownFields(t *testing.T) {
	path := writeScenarioFile(t, `
name: typo
description: "Misspelled key."
stepz:
  - await: {unit: screens/home, ops: 1}
expect:
  store:
    - {unit: screens/home, version: 1}
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse scenario YAML")
	assert.Contains(t, err.Error(), "stepz")
}

func TestLoadScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: "No name."
steps:
  - await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: x
steps:
  - await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "description is required",
		},
		{
			name: "unknown strategy",
			content: `
name: x
description: d
strategy: newest-wins
steps:
  - await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: `unknown strategy "newest-wins"`,
		},
		{
			name: "negative window",
			content: `
name: x
description: d
window_ms: -1
steps:
  - await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "window_ms must not be negative",
		},
		{
			name: "no steps",
			content: `
name: x
description: d
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps list is required",
		},
		{
			name: "step with two actions",
			content: `
name: x
description: d
steps:
  - edit: {unit: u, side: a, at_ms: 0, props: {}}
    await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps[0]: exactly one of edit, await, resolve",
		},
		{
			name: "edit with invalid side",
			content: `
name: x
description: d
steps:
  - edit: {unit: u, side: c, at_ms: 0, props: {}}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: `steps[0].edit: side must be a or b, got "c"`,
		},
		{
			name: "edit without props",
			content: `
name: x
description: d
steps:
  - edit: {unit: u, side: a, at_ms: 0}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps[0].edit: props is required",
		},
		{
			name: "await without ops",
			content: `
name: x
description: d
steps:
  - await: {unit: u}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps[0].await: ops must be at least 1",
		},
		{
			name: "resolve with neither use nor merge",
			content: `
name: x
description: d
steps:
  - resolve: {unit: u}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps[0].resolve: exactly one of use, merge",
		},
		{
			name: "resolve with both use and merge",
			content: `
name: x
description: d
steps:
  - resolve: {unit: u, use: a, merge: {title: X}}
expect:
  store:
    - {unit: u, version: 1}
`,
			wantErr: "steps[0].resolve: exactly one of use, merge",
		},
		{
			name: "empty expect",
			content: `
name: x
description: d
steps:
  - await: {unit: u, ops: 1}
expect: {}
`,
			wantErr: "expect must list at least one check",
		},
		{
			name: "store expect with version zero",
			content: `
name: x
description: d
steps:
  - await: {unit: u, ops: 1}
expect:
  store:
    - {unit: u, version: 0}
`,
			wantErr: "expect.store[0]: version must be at least 1",
		},
		{
			name: "conflict expect with unknown status",
			content: `
name: x
description: d
steps:
  - await: {unit: u, ops: 1}
expect:
  conflicts:
    - {unit: u, status: settled}
`,
			wantErr: `expect.conflicts[0]: unknown status "settled"`,
		},
		{
			name: "operations expect with unknown state",
			content: `
name: x
description: d
steps:
  - await: {unit: u, ops: 1}
expect:
  operations:
    - {unit: u, states: [succeeded, done]}
`,
			wantErr: `expect.operations[0].states[1]: unknown state "done"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenarioFile(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

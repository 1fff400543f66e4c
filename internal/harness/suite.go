package harness

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SuiteResult summarizes a run over a directory of scenario files.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is one scenario that failed to load, execute, or pass
// its expect checks.
type ScenarioFailure struct {
	Scenario string `json:"scenario,omitempty"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// RunDir loads and runs every *.yaml scenario under dir, in lexical
// order. Scenario failures are collected, not fatal; an error is only
// returned when the directory itself cannot be used.
func RunDir(dir string) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files under %s", dir)
	}

	suite := &SuiteResult{}
	for _, path := range paths {
		suite.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{Path: path, Error: err.Error()})
			continue
		}

		result, err := Run(scenario)
		if err != nil {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{Scenario: scenario.Name, Path: path, Error: err.Error()})
			continue
		}
		if !result.Pass {
			suite.Failed++
			suite.Failures = append(suite.Failures, ScenarioFailure{Scenario: scenario.Name, Path: path, Error: strings.Join(result.Errors, "; ")})
			continue
		}

		suite.Passed++
	}
	return suite, nil
}

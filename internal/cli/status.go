package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/journal"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	ConfigPath string
	Unit       string
}

// OperationStatus is the latest recorded state of one operation.
type OperationStatus struct {
	ID         string     `json:"id"`
	Unit       string     `json:"unit"`
	Side       string     `json:"side"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusResult holds the complete status output.
type StatusResult struct {
	Operations []OperationStatus `json:"operations"`
	Counts     map[string]int    `json:"counts"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recorded sync operations",
		Long: `Show sync operations recorded in the journal.

Each operation is listed with its latest recorded state. The journal
survives daemon restarts, so this also reports runs that have already
finished.

Examples:
  duplex status --config duplex.yaml
  duplex status --config duplex.yaml --unit screens/home
  duplex status --config duplex.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "duplex.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "filter to one logical unit")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cfg.Journal.Path == "" {
		msg := "journal is disabled; set journal.path to record operations"
		_ = formatter.Error(ErrCodeConfig, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	transitions, err := j.Operations(context.Background(), journal.OperationFilter{LogicalID: opts.Unit})
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := collapseTransitions(transitions)

	if opts.Format == "json" {
		return outputStatusJSON(cmd, result)
	}
	return outputStatusText(cmd, result, opts)
}

// collapseTransitions reduces the transition log to one row per operation,
// keeping the latest state. Order of first appearance is preserved.
func collapseTransitions(transitions []journal.Transition) StatusResult {
	ops := []OperationStatus{}
	index := make(map[string]int)

	for _, tr := range transitions {
		op := OperationStatus{
			ID:         tr.ID,
			Unit:       tr.LogicalID,
			Side:       tr.Side.String(),
			State:      string(tr.State),
			Error:      tr.Error,
			StartedAt:  tr.StartedAt,
			FinishedAt: tr.FinishedAt,
		}
		if i, ok := index[tr.ID]; ok {
			ops[i] = op
		} else {
			index[tr.ID] = len(ops)
			ops = append(ops, op)
		}
	}

	counts := make(map[string]int)
	for _, op := range ops {
		counts[op.State]++
	}
	return StatusResult{Operations: ops, Counts: counts}
}

func outputStatusJSON(cmd *cobra.Command, result StatusResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func outputStatusText(cmd *cobra.Command, result StatusResult, opts *StatusOptions) error {
	w := cmd.OutOrStdout()

	if len(result.Operations) == 0 {
		if opts.Unit != "" {
			fmt.Fprintf(w, "No operations recorded for unit: %s\n", opts.Unit)
		} else {
			fmt.Fprintln(w, "No operations recorded.")
		}
		return nil
	}

	fmt.Fprintf(w, "Operations: %d\n", len(result.Operations))
	fmt.Fprintln(w)
	for _, op := range result.Operations {
		fmt.Fprintf(w, "  [%s] %-24s %-10s %s\n",
			op.Side, op.Unit, op.State, op.StartedAt.Format(time.RFC3339))
		if op.Error != "" {
			fmt.Fprintf(w, "       error: %s\n", op.Error)
		}
		if opts.Verbose {
			fmt.Fprintf(w, "       id: %s\n", op.ID)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Totals:")
	for _, state := range sortedKeys(result.Counts) {
		fmt.Fprintf(w, " %s=%d", state, result.Counts[state])
	}
	fmt.Fprintln(w)
	return nil
}

// sortedKeys returns map keys in sorted order for deterministic output.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

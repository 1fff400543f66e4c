package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/conflict"
)

// ConflictsOptions holds flags for the conflicts command.
type ConflictsOptions struct {
	*RootOptions
	ConfigPath  string
	PendingOnly bool
}

// ConflictsResult holds the conflicts listing.
type ConflictsResult struct {
	Conflicts []conflict.Record `json:"conflicts"`
	Pending   int               `json:"pending"`
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ConflictsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List detected conflicts",
		Long: `List conflict records persisted under the configured conflicts
directory, oldest first.

With --pending only unresolved records are shown, and the command exits
with code 1 when any exist, so scripts can gate on a clean tree.

Examples:
  duplex conflicts --config duplex.yaml
  duplex conflicts --config duplex.yaml --pending
  duplex conflicts --config duplex.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "duplex.yaml", "path to the configuration file")
	cmd.Flags().BoolVar(&opts.PendingOnly, "pending", false, "show only unresolved conflicts; exit 1 when any exist")

	return cmd
}

func runConflicts(opts *ConflictsOptions, cmd *cobra.Command) error {
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

	records, err := conflict.LoadRecords(cfg.Conflicts.Root)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load conflict records", err)
	}

	pending := 0
	for _, rec := range records {
		if rec.Pending() {
			pending++
		}
	}

	shown := records
	if opts.PendingOnly {
		shown = make([]conflict.Record, 0, pending)
		for _, rec := range records {
			if rec.Pending() {
				shown = append(shown, rec)
			}
		}
	}

	result := ConflictsResult{Conflicts: shown, Pending: pending}

	if opts.Format == "json" {
		if err := outputConflictsJSON(cmd, result); err != nil {
			return err
		}
	} else {
		outputConflictsText(cmd, result, opts)
	}

	if opts.PendingOnly && pending > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d pending conflict(s)", pending))
	}
	return nil
}

func outputConflictsJSON(cmd *cobra.Command, result ConflictsResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func outputConflictsText(cmd *cobra.Command, result ConflictsResult, opts *ConflictsOptions) {
	w := cmd.OutOrStdout()

	if len(result.Conflicts) == 0 {
		if opts.PendingOnly {
			fmt.Fprintln(w, "No pending conflicts.")
		} else {
			fmt.Fprintln(w, "No conflicts recorded.")
		}
		return
	}

	fmt.Fprintf(w, "Conflicts: %d (%d pending)\n", len(result.Conflicts), result.Pending)
	fmt.Fprintln(w)
	for _, rec := range result.Conflicts {
		fmt.Fprintf(w, "  %s\n", rec.ID)
		fmt.Fprintf(w, "    unit:     %s\n", rec.LogicalID)
		fmt.Fprintf(w, "    status:   %s\n", rec.Status)
		fmt.Fprintf(w, "    detected: %s\n", rec.DetectedAt.Format(time.RFC3339))
		if rec.Resolution != nil {
			if rec.Resolution.Winner.Valid() {
				fmt.Fprintf(w, "    winner:   side %s (%s)\n", rec.Resolution.Winner, rec.Resolution.Strategy)
			} else {
				fmt.Fprintf(w, "    merged:   yes (%s)\n", rec.Resolution.Strategy)
			}
		}
		if opts.Verbose {
			fmt.Fprintf(w, "    side a:   %s (base v%d)\n", rec.ChangeA.Path, rec.ChangeA.BaseVersion)
			fmt.Fprintf(w, "    side b:   %s (base v%d)\n", rec.ChangeB.Path, rec.ChangeB.BaseVersion)
		}
		fmt.Fprintln(w)
	}
}

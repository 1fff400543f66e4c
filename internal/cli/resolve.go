package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/conflict"
	"github.com/roach88/duplex/internal/convert"
	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/journal"
	"github.com/roach88/duplex/internal/schema"
	"github.com/roach88/duplex/internal/store"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	ConfigPath string
	Use        string
}

// ResolveResult holds the resolve output.
type ResolveResult struct {
	ConflictID      string `json:"conflict_id"`
	Unit            string `json:"unit"`
	Winner          string `json:"winner"`
	Version         int    `json:"version,omitempty"`
	Regenerated     string `json:"regenerated,omitempty"`
	AlreadyResolved bool   `json:"already_resolved,omitempty"`
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a pending conflict",
		Long: `Resolve a pending conflict by choosing the winning side.

The winning side's file is re-read, converted, and stored as the new
authoritative version; the losing side's file is regenerated from it.
The conflict record is then marked resolved. Resolving an already
settled conflict reports its existing resolution and changes nothing.

The command works on the persisted record and the source trees
directly, so it can run while the daemon is down. Find conflict ids
with "duplex conflicts --pending".

Examples:
  duplex resolve 0198c5b2-7f3a-7c41-9e2d-8f6a01b25c77 --use a
  duplex resolve 0198c5b2-7f3a-7c41-9e2d-8f6a01b25c77 --use b --config ./duplex.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "duplex.yaml", "path to the configuration file")
	cmd.Flags().StringVar(&opts.Use, "use", "", "winning side, a or b (required)")
	_ = cmd.MarkFlagRequired("use")

	return cmd
}

func runResolve(opts *ResolveOptions, conflictID string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	winner := ir.Side(opts.Use)
	if !winner.Valid() {
		msg := fmt.Sprintf("invalid side %q: must be a or b", opts.Use)
		_ = formatter.Error(ErrCodeUsage, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	recordPath := filepath.Join(cfg.Conflicts.Root, conflictID+".json")
	rec, err := conflict.ReadRecord(recordPath)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read conflict record", err)
	}

	// Resolving twice is a no-op that reports the first outcome.
	if !rec.Pending() {
		result := ResolveResult{
			ConflictID:      rec.ID,
			Unit:            rec.LogicalID,
			AlreadyResolved: true,
		}
		if rec.Resolution != nil {
			result.Winner = rec.Resolution.Winner.String()
		}
		return outputResolveResult(cmd, formatter, result)
	}

	winEdit := rec.Edit(winner)
	source, err := os.ReadFile(winEdit.Path)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read winning source", err)
	}

	codecs := convert.DefaultRegistry()
	doc, err := codecs.Convert(winner, source, winEdit.Path)
	if err != nil {
		_ = formatter.Error(ErrCodeResolve, fmt.Sprintf("winning source does not parse: %v", err), nil)
		return WrapExitError(ExitFailure, "winning source does not parse", err)
	}

	validator, err := schema.New()
	if err != nil {
		_ = formatter.Error(ErrCodeResolve, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}
	st, err := store.Open(cfg.Store.Root, store.WithValidator(validator))
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	entry, err := st.Store(rec.LogicalID, doc)
	if err != nil {
		_ = formatter.Error(ErrCodeResolve, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to store winning document", err)
	}
	formatter.VerboseLog("stored %s version %d from side %s", rec.LogicalID, entry.Version, winner)

	loser := winner.Opposite()
	loserBytes, err := codecs.Generate(loser, entry.IR)
	if err != nil {
		_ = formatter.Error(ErrCodeResolve, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to regenerate losing side", err)
	}
	loserPath := rec.Edit(loser).Path
	if err := os.WriteFile(loserPath, loserBytes, 0o644); err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to write losing side", err)
	}
	formatter.VerboseLog("regenerated %s", loserPath)

	rec.Status = conflict.StatusResolved
	rec.Resolution = &conflict.Resolution{
		Strategy:   conflict.StrategyManual,
		Winner:     winner,
		ResolvedAt: time.Now().UTC(),
	}
	if err := conflict.WriteRecord(cfg.Conflicts.Root, rec); err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to update conflict record", err)
	}

	journalResolution(cfg, rec, formatter)

	return outputResolveResult(cmd, formatter, ResolveResult{
		ConflictID:  rec.ID,
		Unit:        rec.LogicalID,
		Winner:      winner.String(),
		Version:     entry.Version,
		Regenerated: loserPath,
	})
}

// journalResolution mirrors the resolved record into the journal. Best
// effort: the record file on disk is authoritative, so journal trouble
// only costs the audit row.
func journalResolution(cfg config.Config, rec conflict.Record, formatter *OutputFormatter) {
	if cfg.Journal.Path == "" {
		return
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		formatter.VerboseLog("journal not updated: %v", err)
		return
	}
	defer j.Close()
	if err := j.AppendConflict(context.Background(), rec); err != nil {
		formatter.VerboseLog("journal not updated: %v", err)
	}
}

func outputResolveResult(cmd *cobra.Command, formatter *OutputFormatter, result ResolveResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "ok",
			Data:   result,
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(response)
	}

	w := cmd.OutOrStdout()
	if result.AlreadyResolved {
		if result.Winner != "" {
			fmt.Fprintf(w, "Conflict %s is already settled (side %s won).\n", result.ConflictID, result.Winner)
		} else {
			fmt.Fprintf(w, "Conflict %s is already settled.\n", result.ConflictID)
		}
		return nil
	}

	fmt.Fprintf(w, "✓ Conflict %s resolved\n", result.ConflictID)
	fmt.Fprintf(w, "  unit %s now at version %d, side %s wins\n", result.Unit, result.Version, result.Winner)
	fmt.Fprintf(w, "  regenerated %s\n", result.Regenerated)
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	ConfigPath string
}

// VersionInfo describes one stored version of a unit.
type VersionInfo struct {
	Version  int       `json:"version"`
	StoredAt time.Time `json:"stored_at"`
	Checksum string    `json:"checksum"`
	Source   string    `json:"source"`
	Current  bool      `json:"current,omitempty"`
}

// HistoryResult holds the history output.
type HistoryResult struct {
	Unit     string        `json:"unit"`
	Versions []VersionInfo `json:"versions"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <unit>",
		Short: "Show stored versions of a unit",
		Long: `Show every stored version of a logical unit, oldest first.

A unit is the extension-free path of a source file relative to its
side's root, e.g. screens/home for a/screens/home.jsx.

Examples:
  duplex history screens/home --config duplex.yaml
  duplex history screens/home --config duplex.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "duplex.yaml", "path to the configuration file")

	return cmd
}

func runHistory(opts *HistoryOptions, unit string, cmd *cobra.Command) error {
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

	st, err := store.Open(cfg.Store.Root)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}

	archived, err := st.History(unit)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	current, err := st.Retrieve(unit)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read current entry", err)
	}

	versions := make([]VersionInfo, 0, len(archived)+1)
	for _, e := range archived {
		versions = append(versions, versionInfo(e, false))
	}
	if current != nil {
		versions = append(versions, versionInfo(*current, true))
	}

	result := HistoryResult{Unit: unit, Versions: versions}

	if opts.Format == "json" {
		return outputHistoryJSON(cmd, result)
	}
	return outputHistoryText(cmd, result)
}

func versionInfo(e store.Entry, current bool) VersionInfo {
	return VersionInfo{
		Version:  e.Version,
		StoredAt: e.StoredAt,
		Checksum: e.Checksum,
		Source:   e.IR.Metadata.SourceKind,
		Current:  current,
	}
}

func outputHistoryJSON(cmd *cobra.Command, result HistoryResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func outputHistoryText(cmd *cobra.Command, result HistoryResult) error {
	w := cmd.OutOrStdout()

	if len(result.Versions) == 0 {
		fmt.Fprintf(w, "No stored versions for unit: %s\n", result.Unit)
		return nil
	}

	fmt.Fprintf(w, "History for unit: %s\n", result.Unit)
	fmt.Fprintln(w)
	for _, v := range result.Versions {
		marker := ""
		if v.Current {
			marker = "  (current)"
		}
		fmt.Fprintf(w, "  v%-4d %s  %s  %s%s\n",
			v.Version, v.StoredAt.Format(time.RFC3339), truncateChecksum(v.Checksum), v.Source, marker)
	}
	return nil
}

// truncateChecksum shortens a hex checksum for display.
func truncateChecksum(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}

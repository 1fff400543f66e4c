package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/ir"
	"github.com/roach88/duplex/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <document.json>",
		Short: "Validate an IR document file",
		Long: `Validate a serialized IR document against the document schema.

Runs the same checks the daemon applies before accepting a conversion:
the embedded CUE schema pass over the raw bytes plus the structural
rules (unique node ids, non-empty types, well-formed props).

Examples:
  duplex validate build/home.ir.json
  duplex validate build/home.ir.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateDocument(opts, args[0], cmd)
		},
	}

	return cmd
}

func runValidateDocument(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read document", err)
	}

	validator, err := schema.New()
	if err != nil {
		_ = formatter.Error(ErrCodeIO, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to build validator", err)
	}

	result := validator.ValidateJSON(data)
	formatter.VerboseLog("checked %s (%d bytes)", path, len(data))

	if result.Valid {
		return outputDocumentValid(formatter)
	}
	return outputDocumentFindings(formatter, result)
}

func outputDocumentValid(formatter *OutputFormatter) error {
	if formatter.Format == "json" {
		return formatter.Success(ir.ValidationResult{Valid: true})
	}
	fmt.Fprintln(formatter.Writer, "✓ Document is valid")
	return nil
}

func outputDocumentFindings(formatter *OutputFormatter, result ir.ValidationResult) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, e := range result.Errors {
		if e.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", e.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n\n", e.Code, e.Field, e.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

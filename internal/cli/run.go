package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/duplex/internal/config"
	"github.com/roach88/duplex/internal/daemon"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sync daemon",
		Long: `Start the duplex sync daemon.

The daemon watches both configured source roots and keeps them
synchronized until it is stopped. The first interrupt drains in-flight
operations before exiting; a second interrupt aborts immediately.

Example:
  duplex run --config duplex.yaml
  duplex run --config ./project/duplex.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "duplex.yaml", "path to the configuration file")

	return cmd
}

func runDaemon(opts *RunOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble daemon", err)
	}

	// Use the command's context if available (for testing), otherwise
	// create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, draining", "signal", sig)
			d.Stop()
			select {
			case sig = <-sigChan:
				slog.Info("received second signal, aborting", "signal", sig)
				cancel()
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "Daemon started. Watching for changes...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "daemon error", err)
	}

	slog.Info("daemon stopped gracefully")
	return nil
}

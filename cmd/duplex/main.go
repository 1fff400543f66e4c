// Package main is the entry point for the duplex CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/duplex/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands format their own errors before returning an ExitError;
	// anything else (flag parsing, bad format) has not been printed yet.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}

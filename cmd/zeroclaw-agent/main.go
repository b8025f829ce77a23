// Package main provides the CLI entry point for the zeroclaw agent runtime:
// a single bounded tool-use agent (spec §4.1) fronted by a small cobra CLI,
// with emergency-stop control and encrypted credential storage as sibling
// command groups.
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

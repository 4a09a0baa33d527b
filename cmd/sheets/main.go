// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command sheets applies spreadsheet operation scripts and prints the delta
// of every operation as JSON.
//
// Usage:
//
//	sheets apply ops.yaml --window A1:D20
//	sheets apply ops.yaml --config sheets.yaml --mode batch --trace
//	sheets version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// options holds the persistent flags.
type options struct {
	configPath string
	envFile    string
	window     string
	mode       string
	logLevel   string
	trace      bool
	otlp       string
	metrics    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "sheets",
		Short:         "Spreadsheet change tracking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML config file")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with SHEETS_* variables")
	flags.StringVar(&opts.window, "window", "", `delta window: "A1:B2[,C3:D4]" or "WIDTHxHEIGHT"`)
	flags.StringVar(&opts.mode, "mode", "", "propagation mode: immediate or batch")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.trace, "trace", false, "print OpenTelemetry spans to stderr")
	flags.StringVar(&opts.otlp, "otlp-endpoint", "", "send spans to an insecure OTLP gRPC collector")
	flags.BoolVar(&opts.metrics, "metrics", false, "print prometheus metrics to stderr on exit")

	root.AddCommand(newApplyCmd(opts), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sheets %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSheets/pkg/logging"
	"github.com/AleutianAI/AleutianSheets/pkg/telemetry"
	"github.com/AleutianAI/AleutianSheets/services/sheets/changes"
	"github.com/AleutianAI/AleutianSheets/services/sheets/config"
	"github.com/AleutianAI/AleutianSheets/services/sheets/delta"
	"github.com/AleutianAI/AleutianSheets/services/sheets/engine"
)

func newApplyCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <script.yaml>",
		Short: "Apply an operations script and print one delta per operation",
		Long: `Runs every operation of the script in its own engine operation and
prints the resulting delta as JSON, one document per operation. Output is
indented when stdout is a terminal.

Use "-" to read the script from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), opts, args[0], cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// loadConfig merges the config file, env and flags.
func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath, opts.envFile)
	if err != nil {
		return config.Config{}, err
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}
	if opts.window != "" {
		cfg.Window = opts.window
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, cfg.Validate()
}

func runApply(ctx context.Context, opts *options, scriptPath string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	mode, err := changes.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	window, err := delta.ParseWindow(cfg.Window)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   level,
		Dir:     cfg.Log.Dir,
		Service: "sheets",
		JSON:    cfg.Log.JSON,
		Output:  stderr,
	})
	defer logger.Close()

	telemetryCfg := telemetry.Config{ServiceName: "sheets", ServiceVersion: version, Output: stderr}
	switch {
	case opts.otlp != "":
		telemetryCfg.TraceExporter = telemetry.ExporterOTLP
		telemetryCfg.OTLPEndpoint = opts.otlp
		telemetryCfg.OTLPInsecure = true
	case opts.trace:
		telemetryCfg.TraceExporter = telemetry.ExporterStdout
	}
	if opts.metrics {
		telemetryCfg.MetricExporter = telemetry.ExporterPrometheus
	}
	shutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return err
	}
	defer func() {
		if opts.metrics {
			if werr := telemetry.WriteMetrics(stderr, prometheus.DefaultGatherer); werr != nil && err == nil {
				err = werr
			}
		}
		if serr := shutdown(context.Background()); serr != nil && err == nil {
			err = serr
		}
	}()

	script, err := readScriptFile(scriptPath, stdin)
	if err != nil {
		return err
	}

	stores, closeStores, err := openStores(ctx, cfg.Store, logger.Slog())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStores(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	eng, err := engine.New(stores, engine.Options{Mode: mode, Logger: logger.Slog()})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if isTerminal(stdout) {
		enc.SetIndent("", "  ")
	}
	for i, op := range script.Operations {
		d, err := op.Run(ctx, eng, window)
		if err != nil {
			return fmt.Errorf("operation %d (%s): %w", i+1, op.Op, err)
		}
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

func readScriptFile(path string, stdin io.Reader) (*Script, error) {
	if path == "-" {
		return ReadScript(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadScript(f)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianGuard/pkg/logging"
	"github.com/AleutianAI/AleutianGuard/pkg/ux"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/guard/config"
)

// app holds the state shared by every command of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	output     string
	jsonOut    bool
	verbose    bool

	cfg     config.Config
	logger  *logging.Logger
	printer *ux.Printer
}

// newRootCmd builds the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "guard",
		Short: "Validate content against quality and security rules",
		Long: `guard checks source code and documentation against a registry of named
rules, caches results per category, raises alerts for severe failures and
retunes rules from validation history.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "service configuration file (YAML)")
	flags.StringVar(&a.output, "output", string(ux.ModeAuto), "output style: auto, styled or plain")
	flags.BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at the configured level instead of warnings only")

	root.AddCommand(
		a.newValidateCmd(),
		a.newRecommendCmd(),
		a.newRulesCmd(),
		a.newMetricsCmd(),
		a.newLearnCmd(),
		a.newServeCmd(),
	)
	return root
}

// setup loads configuration and builds the logger and printer.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if !a.verbose && cmd.Name() != "serve" && cfg.Log.Level < logging.LevelWarn {
		cfg.Log.Level = logging.LevelWarn
	}
	if cfg.Log.Output == nil {
		cfg.Log.Output = a.stderr
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log)
	a.printer = ux.NewPrinter(a.stdout, ux.ParseMode(a.output))
	return nil
}

func (a *app) teardown() {
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// newService builds a service for one-shot commands. Background work is
// not started.
func (a *app) newService(opts ...guard.Option) (*guard.Service, error) {
	return guard.NewService(a.cfg, append([]guard.Option{guard.WithLogger(a.logger.Slog())}, opts...)...)
}

// printJSON writes v as indented JSON to stdout.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readContent reads the file named by the first argument, or stdin when
// there is none or it is "-".
func readContent(cmd *cobra.Command, args []string) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "stdin", nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", args[0], err)
	}
	return string(data), args[0], nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command guard validates content against quality and security rules,
// inspects and exports rules and metrics, retunes rules from history and
// serves the guard HTTP API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianGuard/pkg/secrets"
)

func main() {
	code := run(os.Args[1:])
	secrets.Purge()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(args []string) int {
	root := newRootCmd(os.Stdout, os.Stderr)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Message != "" {
			fmt.Fprintln(os.Stderr, exit.Message)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 2
}

// ExitError ends the command with a specific exit code.
//
// # Description
//
// Commands return ExitError when the command itself worked but its
// outcome should be visible to scripts: a failed check exits 1, while
// usage and infrastructure errors exit 2.
type ExitError struct {
	// Code is the process exit code.
	Code int

	// Message is printed to stderr when non-empty.
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("exit %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// errChecksFailed is returned when at least one validation did not pass.
var errChecksFailed = &ExitError{Code: 1}

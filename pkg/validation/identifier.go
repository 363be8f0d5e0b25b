// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for identifiers that end up
// in URL paths, metric tags and log fields.
//
// Rule names are written as InfluxDB tag values, used as /rules/:name path
// segments and cache keys. Restricting them to a small alphabet keeps those
// uses free of escaping concerns.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxRuleNameLength bounds a rule name.
const MaxRuleNameLength = 128

// ruleNamePattern matches valid rule names.
// Allows: letters, digits, underscores, dots and hyphens, starting with a letter.
var ruleNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\-]*$`)

// ValidateRuleName validates a rule name.
//
// Valid names:
//   - 1-128 characters
//   - Start with a letter
//   - Letters, digits, '_', '.' and '-' after that
//
// Example:
//
//	if err := validation.ValidateRuleName(spec.Name); err != nil {
//	    return fmt.Errorf("%w: %w", ErrConfig, err)
//	}
func ValidateRuleName(name string) error {
	if name == "" {
		return fmt.Errorf("rule name cannot be empty")
	}
	if len(name) > MaxRuleNameLength {
		return fmt.Errorf("rule name %.20q... is %d bytes, limit %d", name, len(name), MaxRuleNameLength)
	}
	if !ruleNamePattern.MatchString(name) {
		return fmt.Errorf("invalid rule name %q (letters, digits, '_', '.', '-'; must start with a letter)", name)
	}
	return nil
}

// ValidateRuleNames validates several names and reports every invalid one.
func ValidateRuleNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateRuleName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid rule names: %q", invalid)
	}
	return nil
}

// SanitizeRuleName trims surrounding whitespace and validates the result.
func SanitizeRuleName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateRuleName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// Sentinel errors for the guard service.
var (
	// ErrValidation indicates a validator faulted while running. A check
	// that ran and did not pass is a Result with Success false, not an error.
	ErrValidation = errors.New("validation error")

	// ErrRuleNotFound indicates an unknown rule or cache category name.
	ErrRuleNotFound = rules.ErrRuleNotFound

	// ErrConfig indicates a malformed rule configuration source.
	ErrConfig = rules.ErrConfig

	// ErrUnsupportedOperation indicates a rule asked for a validator kind
	// that is not implemented.
	ErrUnsupportedOperation = rules.ErrUnsupportedOperation

	// ErrDuplicateRule indicates a name repeated within one load pass.
	ErrDuplicateRule = rules.ErrDuplicateRule

	// ErrClosed indicates the service has been closed.
	ErrClosed = errors.New("service closed")
)

// ValidationError carries the rule whose validator faulted and the cause.
//
// errors.Is(err, ErrValidation) is true for every ValidationError.
type ValidationError struct {
	Rule string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validator for rule %q failed: %v", e.Rule, e.Err)
}

// Unwrap exposes both ErrValidation and the cause to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

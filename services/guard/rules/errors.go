// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import "errors"

// Sentinel errors for rule loading and lookup.
var (
	// ErrRuleNotFound is returned when a rule name is not registered.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrConfig is returned for malformed documents, unknown validator
	// kinds and invalid rule entries.
	ErrConfig = errors.New("invalid rule configuration")

	// ErrDuplicateRule is returned when one load pass names a rule twice.
	ErrDuplicateRule = errors.New("duplicate rule in load pass")

	// ErrUnsupportedOperation is returned for the custom validator kind.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrThresholdMismatch is returned when a validator is given a
	// threshold of the wrong shape.
	ErrThresholdMismatch = errors.New("threshold does not fit validator")

	// ErrInvalidPattern is returned when a pattern threshold fails to compile.
	ErrInvalidPattern = errors.New("invalid pattern")
)

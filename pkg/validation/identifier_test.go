// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRuleName(t *testing.T) {
	tests := []struct {
		name    string
		rule    string
		wantErr bool
	}{
		{"snake case", "method_length", false},
		{"single char", "x", false},
		{"dotted", "sec.no_eval", false},
		{"hyphen", "no-print", false},
		{"mixed case", "NoEval2", false},
		{"max length", "a" + strings.Repeat("b", MaxRuleNameLength-1), false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", MaxRuleNameLength+1), true},
		{"leading digit", "1rule", true},
		{"leading underscore", "_rule", true},
		{"space", "method length", true},
		{"slash", "rules/../x", true},
		{"newline", "rule\nx", true},
		{"quote", `rule"x`, true},
		{"comma breaks tags", "a,b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRuleName(tt.rule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRuleNames(t *testing.T) {
	assert.NoError(t, ValidateRuleNames(nil))
	assert.NoError(t, ValidateRuleNames([]string{"a", "b_c"}))

	err := ValidateRuleNames([]string{"ok", "bad name", "9lives"})
	assert.ErrorContains(t, err, `"bad name"`)
	assert.ErrorContains(t, err, `"9lives"`)
	assert.NotContains(t, err.Error(), `"ok"`)
}

func TestSanitizeRuleName(t *testing.T) {
	got, err := SanitizeRuleName("  method_length\n")
	assert.NoError(t, err)
	assert.Equal(t, "method_length", got)

	_, err = SanitizeRuleName("   ")
	assert.Error(t, err)
}

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

import (
	_ "embed"
	"fmt"
)

// Names of the built-in rules.
const (
	RuleMethodLength          = "method_length"
	RuleCyclomaticComplexity  = "cyclomatic_complexity"
	RuleDocstringCompleteness = "docstring_completeness"
	RuleSecurityPatterns      = "security_patterns"
)

// DefaultRulesYAML holds the built-in rule set, baked in at compile time.
//
//go:embed defaults.yaml
var DefaultRulesYAML []byte

// DefaultRules decodes the built-in rule set.
//
// All built-in rules have OriginShared.
func DefaultRules() ([]Rule, error) {
	doc, err := ParseDocument(DefaultRulesYAML)
	if err != nil {
		return nil, fmt.Errorf("decode built-in rules: %w", err)
	}
	out := make([]Rule, 0, len(doc.Rules))
	for _, exported := range doc.Rules {
		rule, err := exported.build(OriginShared)
		if err != nil {
			return nil, fmt.Errorf("built-in rule: %w", err)
		}
		rule.Tags = normalizeTags(rule.Tags)
		out = append(out, rule)
	}
	return out, nil
}

func builtinValidator(kind ValidatorKind) (Validator, error) {
	switch kind {
	case KindLineCount:
		return LineCount{}, nil
	case KindBranchCount:
		return BranchCount{Keywords: DefaultBranchKeywords}, nil
	case KindRequiredSections:
		return RequiredSections{}, nil
	case KindForbiddenPatterns:
		return &ForbiddenPatterns{}, nil
	case KindLength:
		return LengthBound{}, nil
	}
	return nil, fmt.Errorf("%w: unknown built-in validator %q", ErrConfig, kind)
}

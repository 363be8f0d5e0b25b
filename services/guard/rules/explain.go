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
	"fmt"
	"unicode/utf8"
)

// Explain describes why content fails the rule, one finding per entry.
//
// Findings are measured values ("25 lines, limit 20"), missing section
// names or matched pattern names. It returns nil when nothing can be said,
// including when the threshold does not suit the validator.
func (r Rule) Explain(content string) []string {
	switch v := r.Validator.(type) {
	case LineCount:
		if limit, ok := r.Threshold.Number(); ok {
			return []string{fmt.Sprintf("%d lines, limit %s", CountLines(content), formatNumber(limit))}
		}
	case BranchCount:
		if limit, ok := r.Threshold.Number(); ok {
			return []string{fmt.Sprintf("complexity %d, limit %s", v.Complexity(content), formatNumber(limit))}
		}
	case LengthBound:
		if limit, ok := r.Threshold.Number(); ok {
			return []string{fmt.Sprintf("%d characters, limit %s", utf8.RuneCountInString(content), formatNumber(limit))}
		}
	case RequiredSections:
		missing, err := MissingSections(content, r.Threshold)
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(missing))
		for _, m := range missing {
			out = append(out, "missing section: "+m)
		}
		return out
	case *ForbiddenPatterns:
		hits, err := v.Matches(content, r.Threshold)
		if err != nil {
			return nil
		}
		out := make([]string, 0, len(hits))
		for _, h := range hits {
			out = append(out, "matched pattern: "+h)
		}
		return out
	case *PatternMatch:
		if v.Match() {
			return []string{fmt.Sprintf("required pattern %q not found", v.Pattern())}
		}
		return []string{fmt.Sprintf("forbidden pattern %q found", v.Pattern())}
	}
	return nil
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}

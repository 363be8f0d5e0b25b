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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/AleutianAI/AleutianGuard/services/guard/cache"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

var ruleSuggestions = map[string]string{
	"method_length":          "Split the function into smaller functions with one responsibility each.",
	"cyclomatic_complexity":  "Reduce branching: return early, extract conditions into named helpers or use a lookup table.",
	"docstring_completeness": "Document the parameters, return value and raised errors.",
	"security_patterns":      "Move secrets to configuration or a secret store and pass query and shell arguments as parameters, never by interpolation.",
}

var categorySuggestions = map[rules.Category]string{
	rules.CategoryCode:          "Refactor the code to satisfy the rule.",
	rules.CategoryDocumentation: "Complete the documentation.",
	rules.CategorySecurity:      "Remove the unsafe construct before this content ships.",
	rules.CategoryArchitecture:  "Revisit the module boundaries the rule describes.",
	rules.CategoryPerformance:   "Profile the hot path and remove the flagged construct.",
	rules.CategoryCustom:        "Review the content against the rule description.",
}

// Suggestion returns the human-readable fix for a failing rule.
func Suggestion(rule rules.Rule) string {
	if s, ok := ruleSuggestions[rule.Name]; ok {
		return s
	}
	if s, ok := categorySuggestions[rule.Category]; ok {
		return s
	}
	return "Review the content against: " + rule.Description
}

// GetRecommendations validates content against every rule of origin and
// every shared rule, and returns the failures as recommendations, most
// severe first and then by rule name.
//
// Description:
//
//	An empty origin applies every rule. Each check goes through Validate,
//	so results are cached and recorded like any other call.
//
// Outputs:
//
//	[]Recommendation - Failing rules. Empty when everything passes.
//	error - The first validator fault, or ErrClosed.
func (s *Service) GetRecommendations(ctx context.Context, content string, origin rules.Origin) ([]Recommendation, error) {
	var candidates []rules.Rule
	switch origin {
	case "":
		candidates = s.registry.All()
	case rules.OriginShared:
		candidates = s.registry.ByOrigin(rules.OriginShared)
	default:
		candidates = append(s.registry.ByOrigin(origin), s.registry.ByOrigin(rules.OriginShared)...)
	}

	recs := make([]Recommendation, 0)
	for _, rule := range candidates {
		res, err := s.Validate(ctx, content, rule.Name, nil)
		if err != nil {
			return nil, err
		}
		if res.Success {
			continue
		}
		recs = append(recs, Recommendation{
			Rule:        rule.Name,
			Category:    rule.Category,
			Origin:      rule.Origin,
			Severity:    res.Severity,
			Description: rule.Description,
			Suggestion:  Suggestion(rule),
			Findings:    res.Findings,
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Severity != recs[j].Severity {
			return recs[i].Severity > recs[j].Severity
		}
		return recs[i].Rule < recs[j].Rule
	})
	return recs, nil
}

// cacheExport is the layout of cache_metrics.json.
type cacheExport struct {
	Stats   cache.Stats       `json:"stats"`
	Entries []cache.EntryInfo `json:"entries"`
}

// ExportMetricsDir writes metrics_current.json (the metric series and
// alert summary) and cache_metrics.json (per-category statistics and
// entries) into dir, creating it if needed.
func (s *Service) ExportMetricsDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	if err := s.ExportMetrics(filepath.Join(dir, "metrics_current.json")); err != nil {
		return err
	}

	out := make(map[string]cacheExport)
	for _, name := range s.caches.Names() {
		c, err := s.caches.Get(name)
		if err != nil {
			continue
		}
		out[name] = cacheExport{Stats: c.Stats(), Entries: c.Entries()}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cache_metrics.json"), data, 0o644); err != nil {
		return fmt.Errorf("write cache metrics: %w", err)
	}
	return nil
}

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
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianGuard/services/guard/cache"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// EnvironmentProduction is the environment that raises effective severity.
const EnvironmentProduction = "production"

// ValidationContext is the caller-supplied context of a validate call.
//
// Only "environment" and "critical" affect the outcome. Every key is
// copied into the result and the history record.
type ValidationContext map[string]any

// Environment returns the "environment" value, or "" when absent or not a
// string.
func (c ValidationContext) Environment() string {
	s, _ := c["environment"].(string)
	return s
}

// Critical reports whether "critical" is truthy: true, a non-zero number,
// or a string that parses as true.
func (c ValidationContext) Critical() bool {
	switch v := c["critical"].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	default:
		return false
	}
}

func (c ValidationContext) clone() ValidationContext {
	if c == nil {
		return ValidationContext{}
	}
	out := make(ValidationContext, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Result is the outcome of one validate call.
type Result struct {
	// Success is false when the check ran and did not pass.
	Success bool `json:"success"`

	Rule     string         `json:"rule"`
	Category rules.Category `json:"category"`

	// Severity is the effective severity, 1 to 5.
	Severity int `json:"severity"`

	Context ValidationContext `json:"context"`

	// Timestamp is when the check ran. A cached result keeps the original.
	Timestamp time.Time `json:"timestamp"`

	// Findings explains a failure: the line count, the complexity, the
	// missing sections or the matched pattern names. Empty on success.
	Findings []string `json:"findings,omitempty"`

	// Cached is true when the result came from the cache.
	Cached bool `json:"cached"`

	// Duration is how long the validator ran. Zero for cached results.
	Duration time.Duration `json:"duration_ns"`
}

func (r *Result) clone() *Result {
	out := *r
	out.Context = r.Context.clone()
	if r.Findings != nil {
		out.Findings = append([]string(nil), r.Findings...)
	}
	return &out
}

// Recommendation is a failing rule with a suggested fix.
type Recommendation struct {
	Rule        string         `json:"rule"`
	Category    rules.Category `json:"category"`
	Origin      rules.Origin   `json:"origin"`
	Severity    int            `json:"severity"`
	Description string         `json:"description"`
	Suggestion  string         `json:"suggestion"`
	Findings    []string       `json:"findings,omitempty"`
}

// RuleCounts summarizes the registry.
type RuleCounts struct {
	Total      int                    `json:"total"`
	ByCategory map[rules.Category]int `json:"by_category"`
	ByOrigin   map[rules.Origin]int   `json:"by_origin"`
}

// HistoryStats summarizes the in-memory history.
type HistoryStats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Pending  int   `json:"pending"`
	Dropped  int64 `json:"dropped"`
}

// Metrics is the aggregate read model returned by GetMetrics.
type Metrics struct {
	Cache      map[string]cache.Stats `json:"cache"`
	Validation monitoring.Health      `json:"validation"`
	Rules      RuleCounts             `json:"rules"`
	History    HistoryStats           `json:"history"`
}

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
	"strings"

	"gopkg.in/yaml.v3"
)

// Category partitions rules and caches by subject area.
type Category string

const (
	CategoryCode          Category = "code"
	CategoryDocumentation Category = "documentation"
	CategorySecurity      Category = "security"
	CategoryArchitecture  Category = "architecture"
	CategoryPerformance   Category = "performance"
	CategoryCustom        Category = "custom"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryCode,
	CategoryDocumentation,
	CategorySecurity,
	CategoryArchitecture,
	CategoryPerformance,
	CategoryCustom,
}

// Valid reports whether c is one of the closed set of categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts a configuration key into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrConfig, s)
	}
	return c, nil
}

// UnmarshalYAML rejects categories outside the closed set.
func (c *Category) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Origin identifies which authority contributed a rule.
type Origin string

const (
	// OriginPrimary marks rules supplied for the generating agent.
	OriginPrimary Origin = "primary"

	// OriginExecution marks rules supplied for the executing agent.
	OriginExecution Origin = "execution"

	// OriginShared marks rules that apply to both agents.
	OriginShared Origin = "shared"
)

// Valid reports whether o is a known origin.
func (o Origin) Valid() bool {
	switch o {
	case OriginPrimary, OriginExecution, OriginShared:
		return true
	}
	return false
}

// ParseOrigin converts a string into an Origin.
//
// Accepts the agent aliases "generation" and "primary-agent" for
// OriginPrimary and "execution-agent" for OriginExecution.
func ParseOrigin(s string) (Origin, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "primary", "primary-agent", "generation":
		return OriginPrimary, nil
	case "execution", "execution-agent":
		return OriginExecution, nil
	case "shared":
		return OriginShared, nil
	}
	return "", fmt.Errorf("unknown origin %q", s)
}

// Rule is a named, configured check.
type Rule struct {
	Name        string
	Category    Category
	Description string
	Validator   Validator
	Threshold   Threshold
	Severity    Severity
	Tags        []string
	Origin      Origin
}

// Check runs the rule's validator against content with the rule's threshold.
//
// A false result with a nil error is an ordinary failed check. A non-nil
// error means the validator itself could not run.
func (r Rule) Check(content string) (bool, error) {
	if r.Validator == nil {
		return false, fmt.Errorf("rule %q has no validator", r.Name)
	}
	return r.Validator.Check(content, r.Threshold)
}

// HasTag reports whether the rule carries tag.
func (r Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// clone returns a copy that shares no slices with r.
func (r Rule) clone() Rule {
	out := r
	if r.Tags != nil {
		out.Tags = append([]string(nil), r.Tags...)
	}
	return out
}

// normalizeTags drops empty and repeated tags, keeping first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// tagCategories is the keyword-to-category table used for execution
// rules, checked in order.
var tagCategories = []struct {
	keyword  string
	category Category
}{
	{"security", CategorySecurity},
	{"documentation", CategoryDocumentation},
	{"code_quality", CategoryCode},
	{"architecture", CategoryArchitecture},
	{"performance", CategoryPerformance},
}

// CategoryFromTags infers a category from tags.
//
// Each keyword is tried in table order against every tag; a tag matches
// when it contains the keyword. Falls back to CategoryCustom.
func CategoryFromTags(tags []string) Category {
	for _, entry := range tagCategories {
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), entry.keyword) {
				return entry.category
			}
		}
	}
	return CategoryCustom
}

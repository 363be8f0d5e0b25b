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
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// ValidatorKind names a validator capability.
type ValidatorKind string

const (
	// KindPattern checks whether a compiled pattern occurs in the content.
	KindPattern ValidatorKind = "regex"

	// KindLength checks the content length in characters.
	KindLength ValidatorKind = "length"

	// KindCustom is recognised in configuration but cannot be loaded.
	KindCustom ValidatorKind = "custom"

	// KindLineCount checks the number of lines.
	KindLineCount ValidatorKind = "line_count"

	// KindBranchCount checks a keyword-count complexity estimate.
	KindBranchCount ValidatorKind = "branch_count"

	// KindRequiredSections checks that every listed section name appears.
	KindRequiredSections ValidatorKind = "required_sections"

	// KindForbiddenPatterns checks that no named pattern matches.
	KindForbiddenPatterns ValidatorKind = "forbidden_patterns"
)

// Validator is a closed set of content checks, resolved once at load time.
//
// Check returns (true, nil) when content satisfies threshold, (false, nil)
// when it does not, and a non-nil error when the check could not run.
type Validator interface {
	Kind() ValidatorKind
	Check(content string, threshold Threshold) (bool, error)

	sealed()
}

// PatternMatch passes when the pattern's presence equals Match.
type PatternMatch struct {
	re    *regexp.Regexp
	match bool
}

// NewPatternMatch compiles pattern into a PatternMatch validator.
func NewPatternMatch(pattern string, match bool) (*PatternMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, pattern, err)
	}
	return &PatternMatch{re: re, match: match}, nil
}

func (v *PatternMatch) Kind() ValidatorKind { return KindPattern }

// Pattern returns the source of the compiled pattern.
func (v *PatternMatch) Pattern() string { return v.re.String() }

// Match reports whether the pattern is required to occur.
func (v *PatternMatch) Match() bool { return v.match }

func (v *PatternMatch) Check(content string, _ Threshold) (bool, error) {
	return v.re.MatchString(content) == v.match, nil
}

func (*PatternMatch) sealed() {}

// LengthBound passes when the content has at most threshold characters.
type LengthBound struct{}

func (LengthBound) Kind() ValidatorKind { return KindLength }

func (LengthBound) Check(content string, threshold Threshold) (bool, error) {
	limit, ok := threshold.Number()
	if !ok {
		return false, fmt.Errorf("%w: %s needs a numeric threshold, got %s",
			ErrThresholdMismatch, KindLength, threshold.Kind())
	}
	return float64(utf8.RuneCountInString(content)) <= limit, nil
}

func (LengthBound) sealed() {}

// LineCount passes when the content has at most threshold lines.
type LineCount struct{}

func (LineCount) Kind() ValidatorKind { return KindLineCount }

func (LineCount) Check(content string, threshold Threshold) (bool, error) {
	limit, ok := threshold.Number()
	if !ok {
		return false, fmt.Errorf("%w: %s needs a numeric threshold, got %s",
			ErrThresholdMismatch, KindLineCount, threshold.Kind())
	}
	return float64(CountLines(content)) <= limit, nil
}

func (LineCount) sealed() {}

// CountLines returns the number of newline-separated lines in content.
// Empty content counts as one line.
func CountLines(content string) int {
	return strings.Count(content, "\n") + 1
}

// DefaultBranchKeywords are the substrings counted by BranchCount.
var DefaultBranchKeywords = []string{"if ", "while ", "for ", "except", "case"}

// BranchCount passes when 1 plus the number of branching keywords is at
// most threshold.
type BranchCount struct {
	Keywords []string
}

func (BranchCount) Kind() ValidatorKind { return KindBranchCount }

// Complexity returns the keyword-count estimate for content.
func (v BranchCount) Complexity(content string) int {
	keywords := v.Keywords
	if len(keywords) == 0 {
		keywords = DefaultBranchKeywords
	}
	n := 1
	for _, kw := range keywords {
		n += strings.Count(content, kw)
	}
	return n
}

func (v BranchCount) Check(content string, threshold Threshold) (bool, error) {
	limit, ok := threshold.Number()
	if !ok {
		return false, fmt.Errorf("%w: %s needs a numeric threshold, got %s",
			ErrThresholdMismatch, KindBranchCount, threshold.Kind())
	}
	return float64(v.Complexity(content)) <= limit, nil
}

func (BranchCount) sealed() {}

// RequiredSections passes when every listed name occurs in the content,
// ignoring case.
type RequiredSections struct{}

func (RequiredSections) Kind() ValidatorKind { return KindRequiredSections }

func (RequiredSections) Check(content string, threshold Threshold) (bool, error) {
	missing, err := MissingSections(content, threshold)
	if err != nil {
		return false, err
	}
	return len(missing) == 0, nil
}

func (RequiredSections) sealed() {}

// MissingSections returns the names from a list threshold that do not
// occur in content, ignoring case.
func MissingSections(content string, threshold Threshold) ([]string, error) {
	sections, ok := threshold.Items()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a list threshold, got %s",
			ErrThresholdMismatch, KindRequiredSections, threshold.Kind())
	}
	lower := strings.ToLower(content)
	var missing []string
	for _, s := range sections {
		if !strings.Contains(lower, strings.ToLower(s)) {
			missing = append(missing, s)
		}
	}
	return missing, nil
}

// ForbiddenPatterns passes when none of the named patterns match.
//
// Compiled patterns are cached by source, so retuned thresholds compile
// once per distinct pattern.
type ForbiddenPatterns struct {
	compiled sync.Map // string -> *regexp.Regexp
}

func (*ForbiddenPatterns) Kind() ValidatorKind { return KindForbiddenPatterns }

func (v *ForbiddenPatterns) Check(content string, threshold Threshold) (bool, error) {
	hits, err := v.Matches(content, threshold)
	if err != nil {
		return false, err
	}
	return len(hits) == 0, nil
}

// Matches returns the sorted names of the patterns found in content.
func (v *ForbiddenPatterns) Matches(content string, threshold Threshold) ([]string, error) {
	patterns, ok := threshold.Patterns()
	if !ok {
		return nil, fmt.Errorf("%w: %s needs a pattern map threshold, got %s",
			ErrThresholdMismatch, KindForbiddenPatterns, threshold.Kind())
	}
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		names = append(names, name)
	}
	sort.Strings(names)

	var hits []string
	for _, name := range names {
		re, err := v.compile(patterns[name])
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", name, err)
		}
		if re.MatchString(content) {
			hits = append(hits, name)
		}
	}
	return hits, nil
}

func (v *ForbiddenPatterns) compile(src string) (*regexp.Regexp, error) {
	if cached, ok := v.compiled.Load(src); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	v.compiled.Store(src, re)
	return re, nil
}

func (*ForbiddenPatterns) sealed() {}

// ValidatorSpec is the configuration form of a validator.
type ValidatorSpec struct {
	Type    string `yaml:"type" json:"type" validate:"required"`
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Match   *bool  `yaml:"match,omitempty" json:"match,omitempty"`

	// Module and Function name a custom validator. They are parsed so the
	// entry can be reported, but custom validators never load.
	Module   string `yaml:"module,omitempty" json:"module,omitempty"`
	Function string `yaml:"function,omitempty" json:"function,omitempty"`
}

// BuildValidator resolves a configuration spec into a Validator.
//
// # Inputs
//
//   - spec: The parsed validator entry. Only the regex, length and custom
//     kinds may be configured; the remaining kinds back the built-in rules.
//
// # Outputs
//
//   - Validator: The resolved validator.
//   - error: ErrUnsupportedOperation for custom, ErrConfig for unknown
//     kinds, missing keys and patterns that do not compile.
func BuildValidator(spec ValidatorSpec) (Validator, error) {
	switch ValidatorKind(strings.ToLower(spec.Type)) {
	case KindPattern:
		if spec.Pattern == "" {
			return nil, fmt.Errorf("%w: regex validator needs a pattern", ErrConfig)
		}
		match := true
		if spec.Match != nil {
			match = *spec.Match
		}
		v, err := NewPatternMatch(spec.Pattern, match)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfig, err)
		}
		return v, nil
	case KindLength:
		return LengthBound{}, nil
	case KindCustom:
		return nil, fmt.Errorf("%w: custom validator %s.%s",
			ErrUnsupportedOperation, spec.Module, spec.Function)
	}
	return nil, fmt.Errorf("%w: unknown validator type %q", ErrConfig, spec.Type)
}

// specFor returns the configuration form of v, used when exporting.
func specFor(v Validator) ValidatorSpec {
	if pm, ok := v.(*PatternMatch); ok {
		match := pm.Match()
		return ValidatorSpec{Type: string(KindPattern), Pattern: pm.Pattern(), Match: &match}
	}
	if v == nil {
		return ValidatorSpec{}
	}
	return ValidatorSpec{Type: string(v.Kind())}
}

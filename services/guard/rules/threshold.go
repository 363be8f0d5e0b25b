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
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"
)

// ThresholdKind names the shape held by a Threshold.
type ThresholdKind int

const (
	ThresholdNone ThresholdKind = iota
	ThresholdNumeric
	ThresholdList
	ThresholdPatterns
	ThresholdStructured
)

// String returns the lowercase name of the kind.
func (k ThresholdKind) String() string {
	switch k {
	case ThresholdNone:
		return "none"
	case ThresholdNumeric:
		return "numeric"
	case ThresholdList:
		return "list"
	case ThresholdPatterns:
		return "patterns"
	case ThresholdStructured:
		return "structured"
	}
	return fmt.Sprintf("ThresholdKind(%d)", int(k))
}

// Threshold is the comparison value a validator checks content against.
//
// It holds exactly one of: nothing, a number, a list of strings, a map of
// named patterns, or an arbitrary structured value. The zero value is
// ThresholdNone.
type Threshold struct {
	kind     ThresholdKind
	number   float64
	items    []string
	patterns map[string]string
	value    any
}

// NumericThreshold returns a numeric threshold.
func NumericThreshold(n float64) Threshold {
	return Threshold{kind: ThresholdNumeric, number: n}
}

// ListThreshold returns a list threshold holding a copy of items.
func ListThreshold(items ...string) Threshold {
	return Threshold{kind: ThresholdList, items: append([]string(nil), items...)}
}

// PatternThreshold returns a named-pattern threshold holding a copy of patterns.
func PatternThreshold(patterns map[string]string) Threshold {
	cp := make(map[string]string, len(patterns))
	for k, v := range patterns {
		cp[k] = v
	}
	return Threshold{kind: ThresholdPatterns, patterns: cp}
}

// StructuredThreshold returns a threshold wrapping an arbitrary value.
func StructuredThreshold(v any) Threshold {
	if v == nil {
		return Threshold{}
	}
	return Threshold{kind: ThresholdStructured, value: v}
}

// Kind returns the shape held by t.
func (t Threshold) Kind() ThresholdKind { return t.kind }

// IsNumeric reports whether t holds a number.
func (t Threshold) IsNumeric() bool { return t.kind == ThresholdNumeric }

// Number returns the numeric value and whether t is numeric.
func (t Threshold) Number() (float64, bool) {
	return t.number, t.kind == ThresholdNumeric
}

// Items returns a copy of the list value and whether t is a list.
func (t Threshold) Items() ([]string, bool) {
	if t.kind != ThresholdList {
		return nil, false
	}
	return append([]string(nil), t.items...), true
}

// Patterns returns a copy of the named patterns and whether t is a pattern map.
func (t Threshold) Patterns() (map[string]string, bool) {
	if t.kind != ThresholdPatterns {
		return nil, false
	}
	cp := make(map[string]string, len(t.patterns))
	for k, v := range t.patterns {
		cp[k] = v
	}
	return cp, true
}

// Value returns the threshold as a plain Go value suitable for encoding.
func (t Threshold) Value() any {
	switch t.kind {
	case ThresholdNumeric:
		if t.number == math.Trunc(t.number) && math.Abs(t.number) < 1<<53 {
			return int64(t.number)
		}
		return t.number
	case ThresholdList:
		return append([]string(nil), t.items...)
	case ThresholdPatterns:
		p, _ := t.Patterns()
		return p
	case ThresholdStructured:
		return t.value
	}
	return nil
}

// Scale returns a numeric threshold multiplied by factor.
//
// The second result is false, and t is returned unchanged, when t is not
// numeric.
func (t Threshold) Scale(factor float64) (Threshold, bool) {
	if t.kind != ThresholdNumeric {
		return t, false
	}
	return NumericThreshold(t.number * factor), true
}

// String renders the threshold for logs and suggestions.
func (t Threshold) String() string {
	switch t.kind {
	case ThresholdNone:
		return "none"
	case ThresholdNumeric:
		return fmt.Sprintf("%g", t.number)
	}
	return fmt.Sprintf("%v", t.Value())
}

// MarshalYAML encodes the held value.
func (t Threshold) MarshalYAML() (interface{}, error) {
	return t.Value(), nil
}

// UnmarshalYAML infers the threshold shape from the node.
//
// Integers and floats become numeric; sequences of scalars become lists;
// mappings of scalar to scalar become named patterns; anything else is
// kept as a structured value.
func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		switch node.Tag {
		case "!!null":
			*t = Threshold{}
			return nil
		case "!!int", "!!float":
			var n float64
			if err := node.Decode(&n); err != nil {
				return err
			}
			*t = NumericThreshold(n)
			return nil
		}
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err == nil {
			*t = ListThreshold(items...)
			return nil
		}
	case yaml.MappingNode:
		var patterns map[string]string
		if err := node.Decode(&patterns); err == nil {
			*t = PatternThreshold(patterns)
			return nil
		}
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	*t = StructuredThreshold(v)
	return nil
}

// MarshalJSON encodes the held value.
func (t Threshold) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Value())
}

// UnmarshalJSON infers the threshold shape the same way UnmarshalYAML does.
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*t = thresholdFromValue(raw)
	return nil
}

func thresholdFromValue(raw any) Threshold {
	switch v := raw.(type) {
	case nil:
		return Threshold{}
	case float64:
		return NumericThreshold(v)
	case int:
		return NumericThreshold(float64(v))
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return StructuredThreshold(raw)
			}
			items = append(items, s)
		}
		return ListThreshold(items...)
	case map[string]any:
		patterns := make(map[string]string, len(v))
		for k, item := range v {
			s, ok := item.(string)
			if !ok {
				return StructuredThreshold(raw)
			}
			patterns[k] = s
		}
		return PatternThreshold(patterns)
	}
	return StructuredThreshold(raw)
}

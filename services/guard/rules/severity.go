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
	"strconv"

	"gopkg.in/yaml.v3"
)

const (
	// MinSeverity is the lowest severity a rule can carry.
	MinSeverity = 1

	// MaxSeverity is the highest severity a rule can carry.
	MaxSeverity = 5

	// DefaultSeverity is used when a configuration entry omits severity.
	DefaultSeverity = 3
)

// Severity is an integer level in [MinSeverity, MaxSeverity].
//
// The level is only reachable through NewSeverity and the arithmetic
// helpers, all of which clamp. The zero value reads as MinSeverity.
type Severity struct {
	level int
}

// NewSeverity returns a Severity clamped to [MinSeverity, MaxSeverity].
func NewSeverity(level int) Severity {
	return Severity{level: clampSeverity(level)}
}

// Level returns the integer level.
func (s Severity) Level() int {
	return clampSeverity(s.level)
}

// Raise returns the severity increased by n, clamped.
func (s Severity) Raise(n int) Severity {
	return NewSeverity(s.Level() + n)
}

// Lower returns the severity decreased by n, clamped.
func (s Severity) Lower(n int) Severity {
	return NewSeverity(s.Level() - n)
}

// String returns the decimal form of the level.
func (s Severity) String() string {
	return strconv.Itoa(s.Level())
}

// MarshalJSON encodes the severity as a bare integer.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Level())
}

// UnmarshalJSON decodes an integer and clamps it.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var level int
	if err := json.Unmarshal(data, &level); err != nil {
		return err
	}
	*s = NewSeverity(level)
	return nil
}

// MarshalYAML encodes the severity as a bare integer.
func (s Severity) MarshalYAML() (interface{}, error) {
	return s.Level(), nil
}

// UnmarshalYAML decodes an integer and clamps it.
func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var level int
	if err := node.Decode(&level); err != nil {
		return err
	}
	*s = NewSeverity(level)
	return nil
}

func clampSeverity(level int) int {
	if level < MinSeverity {
		return MinSeverity
	}
	if level > MaxSeverity {
		return MaxSeverity
	}
	return level
}

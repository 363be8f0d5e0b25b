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
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ExportedRule is the serialised form of a Rule. A document's rules
// section is a list of these, so exported rule sets load back unchanged.
type ExportedRule struct {
	Name        string        `yaml:"name" json:"name"`
	Category    Category      `yaml:"category" json:"category"`
	Description string        `yaml:"description" json:"description"`
	Validator   ValidatorSpec `yaml:"validator" json:"validator"`
	Threshold   Threshold     `yaml:"threshold" json:"threshold"`
	Severity    Severity      `yaml:"severity" json:"severity"`
	Tags        []string      `yaml:"tags" json:"tags"`
	Origin      Origin        `yaml:"origin" json:"origin"`
}

// Export returns the serialised form of r.
func (r Rule) Export() ExportedRule {
	tags := r.Tags
	if tags == nil {
		tags = []string{}
	}
	return ExportedRule{
		Name:        r.Name,
		Category:    r.Category,
		Description: r.Description,
		Validator:   specFor(r.Validator),
		Threshold:   r.Threshold,
		Severity:    r.Severity,
		Tags:        tags,
		Origin:      r.Origin,
	}
}

// Export writes every rule, sorted by name, and the shared metrics as a
// YAML document that LoadFromConfig accepts.
func (r *Registry) Export(w io.Writer) error {
	all := r.All()
	doc := Document{Rules: make([]ExportedRule, 0, len(all))}
	for _, rule := range all {
		doc.Rules = append(doc.Rules, rule.Export())
	}
	if metrics := r.SharedMetrics(); len(metrics) > 0 {
		doc.Shared = &SharedSection{Metrics: metrics}
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return enc.Close()
}

// ExportFile writes the rule set to path.
func (r *Registry) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := r.Export(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

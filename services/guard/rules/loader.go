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
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Document is a rule configuration document.
//
// # Description
//
// generation and execution hold hand-written rules; llm and cascade are
// accepted as their older names. rules holds complete rule snapshots as
// written by Export and the built-in rule set, which may use every
// validator kind. A document must have at least one section and no
// others.
type Document struct {
	Generation *GenerationSection `yaml:"generation,omitempty"`
	LLM        *GenerationSection `yaml:"llm,omitempty"`
	Execution  *ExecutionSection  `yaml:"execution,omitempty"`
	Cascade    *ExecutionSection  `yaml:"cascade,omitempty"`
	Shared     *SharedSection     `yaml:"shared,omitempty"`
	Rules      []ExportedRule     `yaml:"rules,omitempty"`
}

var documentSections = map[string]bool{
	"generation": true, "llm": true,
	"execution": true, "cascade": true,
	"shared": true, "rules": true,
}

// GenerationSection holds rules for the generating agent, keyed by category.
type GenerationSection struct {
	ValidationRules map[string][]RuleSpec `yaml:"validation_rules"`
}

// ExecutionSection holds rules for the executing agent. Their category is
// inferred from tags.
type ExecutionSection struct {
	ExecutionRules []RuleSpec `yaml:"execution_rules"`
}

// SharedSection holds metric values referenced by both rule sources.
type SharedSection struct {
	Metrics map[string]any `yaml:"metrics"`
}

// RuleSpec is one configured rule entry.
type RuleSpec struct {
	Name        string         `yaml:"name" validate:"required"`
	Description string         `yaml:"description" validate:"required"`
	Validator   *ValidatorSpec `yaml:"validator" validate:"required"`
	Threshold   Threshold      `yaml:"threshold"`
	Severity    *int           `yaml:"severity,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
}

// ParseDocument decodes a rule configuration document.
//
// # Outputs
//
//   - *Document: The decoded document.
//   - error: ErrConfig for malformed YAML, an empty document or a
//     top-level key that is not a known section.
func ParseDocument(data []byte) (*Document, error) {
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if len(top) == 0 {
		return nil, fmt.Errorf("%w: document has no rule sections", ErrConfig)
	}
	var unknown []string
	for key := range top {
		if !documentSections[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown sections %s (want generation, execution, shared or rules)",
			ErrConfig, strings.Join(unknown, ", "))
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return &doc, nil
}

// BuildPass turns a document into a staged pass without touching any registry.
//
// # Description
//
// Generation rules get OriginPrimary and the category of their section key.
// Execution rules get OriginExecution and a category inferred from their
// tags. Category keys are processed in sorted order so errors are
// deterministic.
//
// # Outputs
//
//   - *Pass: The staged rules.
//   - error: ErrConfig, ErrDuplicateRule or ErrUnsupportedOperation.
func BuildPass(doc *Document, source string) (*Pass, error) {
	p := NewPass(source)

	for _, sec := range []struct {
		key string
		gen *GenerationSection
	}{{"generation", doc.Generation}, {"llm", doc.LLM}} {
		if sec.gen == nil {
			continue
		}
		keys := make([]string, 0, len(sec.gen.ValidationRules))
		for k := range sec.gen.ValidationRules {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			category, err := ParseCategory(key)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", source, err)
			}
			for i, spec := range sec.gen.ValidationRules[key] {
				rule, err := spec.build(category, OriginPrimary)
				if err != nil {
					return nil, fmt.Errorf("%s: %s.%s[%d]: %w", source, sec.key, key, i, err)
				}
				if err := p.Add(rule); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, sec := range []struct {
		key  string
		exec *ExecutionSection
	}{{"execution", doc.Execution}, {"cascade", doc.Cascade}} {
		if sec.exec == nil {
			continue
		}
		for i, spec := range sec.exec.ExecutionRules {
			rule, err := spec.build(CategoryFromTags(spec.Tags), OriginExecution)
			if err != nil {
				return nil, fmt.Errorf("%s: %s[%d]: %w", source, sec.key, i, err)
			}
			if err := p.Add(rule); err != nil {
				return nil, err
			}
		}
	}

	for i, exported := range doc.Rules {
		rule, err := exported.build(OriginShared)
		if err != nil {
			return nil, fmt.Errorf("%s: rules[%d]: %w", source, i, err)
		}
		if err := p.Add(rule); err != nil {
			return nil, err
		}
	}

	if doc.Shared != nil && len(doc.Shared.Metrics) > 0 {
		p.SetShared(doc.Shared.Metrics)
	}
	return p, nil
}

func (s RuleSpec) build(category Category, origin Origin) (Rule, error) {
	if err := validate.Struct(s); err != nil {
		return Rule{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	v, err := BuildValidator(*s.Validator)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", s.Name, err)
	}
	if err := checkThreshold(s.Name, v.Kind(), s.Threshold); err != nil {
		return Rule{}, err
	}
	severity := NewSeverity(DefaultSeverity)
	if s.Severity != nil {
		severity = NewSeverity(*s.Severity)
	}
	return Rule{
		Name:        s.Name,
		Category:    category,
		Description: s.Description,
		Validator:   v,
		Threshold:   s.Threshold,
		Severity:    severity,
		Tags:        s.Tags,
		Origin:      origin,
	}, nil
}

// build turns an exported rule back into a Rule. Unlike hand-written
// entries it may name the built-in validator kinds. A missing origin
// becomes origin and a missing severity DefaultSeverity.
func (e ExportedRule) build(origin Origin) (Rule, error) {
	if e.Name == "" || e.Description == "" || e.Validator.Type == "" {
		return Rule{}, fmt.Errorf("%w: rule %q needs a name, description and validator", ErrConfig, e.Name)
	}
	category, err := ParseCategory(string(e.Category))
	if err != nil {
		return Rule{}, fmt.Errorf("rule %q: %w", e.Name, err)
	}
	if e.Origin != "" {
		if origin, err = ParseOrigin(string(e.Origin)); err != nil {
			return Rule{}, fmt.Errorf("%w: rule %q: %w", ErrConfig, e.Name, err)
		}
	}
	v, err := builtinValidator(ValidatorKind(strings.ToLower(e.Validator.Type)))
	if err != nil {
		if v, err = BuildValidator(e.Validator); err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", e.Name, err)
		}
	}
	if err := checkThreshold(e.Name, v.Kind(), e.Threshold); err != nil {
		return Rule{}, err
	}
	severity := e.Severity
	if severity.level == 0 {
		severity = NewSeverity(DefaultSeverity)
	}
	return Rule{
		Name:        e.Name,
		Category:    category,
		Description: e.Description,
		Validator:   v,
		Threshold:   e.Threshold,
		Severity:    severity,
		Tags:        e.Tags,
		Origin:      origin,
	}, nil
}

// checkThreshold rejects a threshold the validator kind cannot read.
func checkThreshold(rule string, kind ValidatorKind, t Threshold) error {
	ok := true
	switch kind {
	case KindLength, KindLineCount, KindBranchCount:
		ok = t.IsNumeric()
	case KindRequiredSections:
		_, ok = t.Items()
	case KindForbiddenPatterns:
		_, ok = t.Patterns()
	}
	if !ok {
		return fmt.Errorf("%w: rule %q: %s validator cannot use a %s threshold", ErrConfig, rule, kind, t.Kind())
	}
	return nil
}

// UnmarshalYAML accepts the bare kind shorthand, validator: line_count,
// as well as the mapping form.
func (s *ValidatorSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = ValidatorSpec{Type: node.Value}
		return nil
	}
	type plain ValidatorSpec
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = ValidatorSpec(p)
	return nil
}

// MarshalYAML writes the shorthand when only the kind is set.
func (s ValidatorSpec) MarshalYAML() (any, error) {
	if s.Pattern == "" && s.Match == nil && s.Module == "" && s.Function == "" {
		return s.Type, nil
	}
	type plain ValidatorSpec
	return plain(s), nil
}

// LoadFromConfig parses data and commits it as one pass.
//
// On any error nothing is registered and the previously loaded rules stay
// in effect.
func (r *Registry) LoadFromConfig(data []byte, source string) error {
	doc, err := ParseDocument(data)
	if err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	p, err := BuildPass(doc, source)
	if err != nil {
		return err
	}
	r.Commit(p)
	return nil
}

// LoadFile reads and loads a rule configuration file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrConfig, path, err)
	}
	return r.LoadFromConfig(data, path)
}

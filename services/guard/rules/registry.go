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
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/AleutianGuard/pkg/validation"
)

// Registry holds the known rules keyed by name.
//
// # Description
//
// Rules arrive in load passes. Within a pass every name must be unique;
// across passes a later rule replaces an earlier one with the same name.
// A pass is committed all at once or not at all.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	rules  map[string]Rule
	shared map[string]any
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rules:  make(map[string]Rule),
		shared: make(map[string]any),
		logger: logger,
	}
}

// NewDefaultRegistry creates a registry seeded with the built-in rules.
func NewDefaultRegistry(logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	defaults, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	if err := r.Register(defaults...); err != nil {
		return nil, fmt.Errorf("register built-in rules: %w", err)
	}
	return r, nil
}

// Pass stages rules for one atomic load.
type Pass struct {
	source string
	rules  map[string]Rule
	order  []string
	shared map[string]any
}

// NewPass starts a load pass. source is used in log and error messages.
func NewPass(source string) *Pass {
	return &Pass{source: source, rules: make(map[string]Rule)}
}

// Add stages a rule.
//
// # Outputs
//
//   - error: ErrDuplicateRule if the name was already staged in this pass,
//     ErrConfig if the rule is incomplete or its name is not a valid
//     identifier.
func (p *Pass) Add(rule Rule) error {
	if err := validation.ValidateRuleName(rule.Name); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if rule.Validator == nil {
		return fmt.Errorf("%w: rule %q has no validator", ErrConfig, rule.Name)
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: rule %q has unknown category %q", ErrConfig, rule.Name, rule.Category)
	}
	if !rule.Origin.Valid() {
		return fmt.Errorf("%w: rule %q has unknown origin %q", ErrConfig, rule.Name, rule.Origin)
	}
	if _, dup := p.rules[rule.Name]; dup {
		return fmt.Errorf("%w: %q in %s", ErrDuplicateRule, rule.Name, p.source)
	}
	rule = rule.clone()
	rule.Tags = normalizeTags(rule.Tags)
	p.rules[rule.Name] = rule
	p.order = append(p.order, rule.Name)
	return nil
}

// SetShared stages shared metrics to merge on commit.
func (p *Pass) SetShared(metrics map[string]any) {
	p.shared = metrics
}

// Len returns the number of staged rules.
func (p *Pass) Len() int { return len(p.order) }

// Commit applies a pass to the registry in one step.
func (r *Registry) Commit(p *Pass) {
	r.mu.Lock()
	overridden := 0
	for _, name := range p.order {
		if _, ok := r.rules[name]; ok {
			overridden++
		}
		r.rules[name] = p.rules[name]
	}
	for k, v := range p.shared {
		r.shared[k] = v
	}
	total := len(r.rules)
	r.mu.Unlock()

	r.logger.Info("rules loaded",
		slog.String("source", p.source),
		slog.Int("added", p.Len()),
		slog.Int("overridden", overridden),
		slog.Int("total", total),
	)
}

// Register adds rules as a single load pass.
//
// Either all rules are registered or, on error, none are.
func (r *Registry) Register(rules ...Rule) error {
	p := NewPass("register")
	for _, rule := range rules {
		if err := p.Add(rule); err != nil {
			return err
		}
	}
	r.Commit(p)
	return nil
}

// Get returns a copy of the named rule.
func (r *Registry) Get(name string) (Rule, error) {
	r.mu.RLock()
	rule, ok := r.rules[name]
	r.mu.RUnlock()
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	return rule.clone(), nil
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// All returns copies of every rule sorted by name.
func (r *Registry) All() []Rule {
	return r.filter(func(Rule) bool { return true })
}

// ByCategory returns the rules in category c, sorted by name.
func (r *Registry) ByCategory(c Category) []Rule {
	return r.filter(func(rule Rule) bool { return rule.Category == c })
}

// ByOrigin returns the rules contributed by o, sorted by name.
func (r *Registry) ByOrigin(o Origin) []Rule {
	return r.filter(func(rule Rule) bool { return rule.Origin == o })
}

// ByTag returns the rules carrying tag, sorted by name.
func (r *Registry) ByTag(tag string) []Rule {
	return r.filter(func(rule Rule) bool { return rule.HasTag(tag) })
}

func (r *Registry) filter(keep func(Rule) bool) []Rule {
	r.mu.RLock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, rule.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpdateThreshold replaces the threshold of the named rule.
func (r *Registry) UpdateThreshold(name string, t Threshold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	rule.Threshold = t
	r.rules[name] = rule
	return nil
}

// UpdateSeverity replaces the severity of the named rule.
func (r *Registry) UpdateSeverity(name string, s Severity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrRuleNotFound, name)
	}
	rule.Severity = s
	r.rules[name] = rule
	return nil
}

// SharedMetrics returns a copy of the shared metric values.
func (r *Registry) SharedMetrics() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.shared))
	for k, v := range r.shared {
		out[k] = v
	}
	return out
}

// CountByCategory returns the number of rules per category.
func (r *Registry) CountByCategory() map[Category]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Category]int)
	for _, rule := range r.rules {
		out[rule.Category]++
	}
	return out
}

// CountByOrigin returns the number of rules per origin.
func (r *Registry) CountByOrigin() map[Origin]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Origin]int)
	for _, rule := range r.rules {
		out[rule.Origin]++
	}
	return out
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package learning retunes rule severities and numeric thresholds from
// validation history.
//
// The policy is a feedback heuristic with no convergence guarantee: rules
// that fail often become more severe and more lenient, rules that rarely
// fail become less severe and stricter. Only numeric thresholds are
// scaled; list and pattern thresholds are left alone.
package learning

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// Policy holds the tunable constants of the learner.
type Policy struct {
	// RaiseAbove is the failure rate above which a rule is escalated.
	RaiseAbove float64 `yaml:"raise_above" json:"raise_above" validate:"gte=0,lte=1"`

	// LowerBelow is the failure rate below which a rule is relaxed.
	LowerBelow float64 `yaml:"lower_below" json:"lower_below" validate:"gte=0,lte=1"`

	// RelaxFactor scales numeric thresholds of escalated rules.
	RelaxFactor float64 `yaml:"relax_factor" json:"relax_factor" validate:"gt=0"`

	// TightenFactor scales numeric thresholds of relaxed rules.
	TightenFactor float64 `yaml:"tighten_factor" json:"tighten_factor" validate:"gt=0"`

	// MinSamples is the fewest records a rule needs before it is retuned.
	MinSamples int `yaml:"min_samples" json:"min_samples" validate:"gte=1"`
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{
		RaiseAbove:    0.7,
		LowerBelow:    0.3,
		RelaxFactor:   1.1,
		TightenFactor: 0.9,
		MinSamples:    1,
	}
}

// RuleTuner is the part of the rule registry the learner mutates.
type RuleTuner interface {
	Get(name string) (rules.Rule, error)
	UpdateSeverity(name string, s rules.Severity) error
	UpdateThreshold(name string, t rules.Threshold) error
}

// Direction says which way a rule was moved.
type Direction string

const (
	Escalated Direction = "escalated"
	Relaxed   Direction = "relaxed"
)

// Adjustment records the change made to one rule.
type Adjustment struct {
	Rule         string          `json:"rule"`
	Direction    Direction       `json:"direction"`
	FailureRate  float64         `json:"failure_rate"`
	Samples      int             `json:"samples"`
	OldSeverity  rules.Severity  `json:"old_severity"`
	NewSeverity  rules.Severity  `json:"new_severity"`
	OldThreshold rules.Threshold `json:"old_threshold"`
	NewThreshold rules.Threshold `json:"new_threshold"`
}

// ThresholdChanged reports whether the threshold was scaled.
func (a Adjustment) ThresholdChanged() bool {
	return a.OldThreshold.IsNumeric() && a.NewThreshold.IsNumeric() &&
		a.OldThreshold.String() != a.NewThreshold.String()
}

// Feed supplies records newer than a sequence watermark, and the
// watermark to resume from. *history.Log implements it.
type Feed interface {
	Since(seq uint64) ([]history.Record, uint64)
}

// Learner applies a Policy to a RuleTuner.
//
// # Thread Safety
//
// Safe for concurrent use. Passes are serialized.
type Learner struct {
	tuner  RuleTuner
	policy Policy
	logger *slog.Logger

	mu        sync.Mutex
	watermark uint64
	carried   map[string]*tally // rules still short of MinSamples
}

// New creates a learner.
func New(tuner RuleTuner, policy Policy, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MinSamples < 1 {
		policy.MinSamples = 1
	}
	return &Learner{
		tuner:   tuner,
		policy:  policy,
		logger:  logger.With(slog.String("component", "learner")),
		carried: make(map[string]*tally),
	}
}

// Policy returns the learner's policy.
func (l *Learner) Policy() Policy { return l.policy }

type tally struct {
	total    int
	failures int
}

// Learn groups records by rule and retunes each rule whose failure rate
// crosses a policy bound.
//
// # Description
//
// For each rule, failure rate = failures / total. Above RaiseAbove the
// severity goes up by one and a numeric threshold is multiplied by
// RelaxFactor. Below LowerBelow the severity goes down by one and a
// numeric threshold is multiplied by TightenFactor. Rules no longer in
// the registry are skipped. records are judged on their own; the
// LearnNew watermark does not move.
//
// # Outputs
//
//   - []Adjustment: One entry per retuned rule, sorted by rule name.
func (l *Learner) Learn(records []history.Record) []Adjustment {
	l.mu.Lock()
	defer l.mu.Unlock()
	tallies := make(map[string]*tally)
	count(tallies, records)
	return l.retune(tallies)
}

// LearnNew retunes rules from the records feed gained since the previous
// LearnNew call.
//
// # Description
//
// Each record is counted once. A rule whose new records are fewer than
// MinSamples keeps its counts for the next pass; once a rule has been
// judged its counts start over, so a pass never applies the same
// evidence twice.
func (l *Learner) LearnNew(feed Feed) []Adjustment {
	l.mu.Lock()
	defer l.mu.Unlock()
	records, next := feed.Since(l.watermark)
	l.watermark = next
	if len(records) == 0 {
		return nil
	}
	count(l.carried, records)
	return l.retune(l.carried)
}

func count(tallies map[string]*tally, records []history.Record) {
	for _, r := range records {
		t, ok := tallies[r.Rule]
		if !ok {
			t = &tally{}
			tallies[r.Rule] = t
		}
		t.total++
		if !r.Success {
			t.failures++
		}
	}
}

// retune judges every rule in tallies with at least MinSamples records
// and removes it from tallies.
func (l *Learner) retune(tallies map[string]*tally) []Adjustment {
	names := make([]string, 0, len(tallies))
	for name, t := range tallies {
		if t.total >= l.policy.MinSamples {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var out []Adjustment
	for _, name := range names {
		t := tallies[name]
		delete(tallies, name)
		rate := float64(t.failures) / float64(t.total)

		var (
			dir    Direction
			factor float64
			step   func(rules.Severity) rules.Severity
		)
		switch {
		case rate > l.policy.RaiseAbove:
			dir, factor = Escalated, l.policy.RelaxFactor
			step = func(s rules.Severity) rules.Severity { return s.Raise(1) }
		case rate < l.policy.LowerBelow:
			dir, factor = Relaxed, l.policy.TightenFactor
			step = func(s rules.Severity) rules.Severity { return s.Lower(1) }
		default:
			continue
		}

		adj, err := l.apply(name, dir, factor, step)
		if err != nil {
			if !errors.Is(err, rules.ErrRuleNotFound) {
				l.logger.Warn("rule retune failed", slog.String("rule", name), slog.String("error", err.Error()))
			}
			continue
		}
		adj.FailureRate = rate
		adj.Samples = t.total
		out = append(out, adj)

		l.logger.Info("rule retuned",
			slog.String("rule", name),
			slog.String("direction", string(dir)),
			slog.Float64("failure_rate", rate),
			slog.Int("old_severity", adj.OldSeverity.Level()),
			slog.Int("new_severity", adj.NewSeverity.Level()),
			slog.String("new_threshold", adj.NewThreshold.String()),
		)
	}
	return out
}

func (l *Learner) apply(name string, dir Direction, factor float64, step func(rules.Severity) rules.Severity) (Adjustment, error) {
	rule, err := l.tuner.Get(name)
	if err != nil {
		return Adjustment{}, err
	}
	adj := Adjustment{
		Rule:         name,
		Direction:    dir,
		OldSeverity:  rule.Severity,
		NewSeverity:  step(rule.Severity),
		OldThreshold: rule.Threshold,
		NewThreshold: rule.Threshold,
	}
	if err := l.tuner.UpdateSeverity(name, adj.NewSeverity); err != nil {
		return Adjustment{}, err
	}
	if scaled, ok := rule.Threshold.Scale(factor); ok {
		if err := l.tuner.UpdateThreshold(name, scaled); err != nil {
			return Adjustment{}, err
		}
		adj.NewThreshold = scaled
	}
	return adj, nil
}

// Run calls LearnNew with feed every interval until ctx is done, handing
// any adjustments to onAdjust. onAdjust may be nil.
func (l *Learner) Run(ctx context.Context, interval time.Duration, feed Feed, onAdjust func([]Adjustment)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			adjustments := l.LearnNew(feed)
			if len(adjustments) == 0 {
				continue
			}
			l.logger.Info("learning pass complete", slog.Int("adjusted", len(adjustments)))
			if onAdjust != nil {
				onAdjust(adjustments)
			}
		}
	}
}

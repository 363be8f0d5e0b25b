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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGuard/services/guard/history"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
	"github.com/AleutianAI/AleutianGuard/services/guard/telemetry"
)

// Validate checks content against the named rule.
//
// Description:
//
//	Resolves the rule, then looks the (rule, content fingerprint,
//	environment, critical) key up in the cache of the rule's category. A
//	hit returns a copy of the stored result with Cached set and zero
//	Duration. A miss runs the validator at the effective severity, caches
//	the result, appends it to history and records metrics. A failing check
//	at effective severity 4 raises one ERROR alert, at 5 one CRITICAL alert.
//
//	"environment" falls back to the service environment when vctx does not
//	set it. Concurrent identical misses share one validator run.
//
// Inputs:
//
//	ctx - Carries the trace span. Not used for cancellation.
//	content - The text to check.
//	ruleName - The rule to apply.
//	vctx - Caller context. May be nil.
//
// Outputs:
//
//	*Result - The outcome. Success false is an ordinary failed check.
//	error - ErrRuleNotFound for an unknown rule or category, a
//	        *ValidationError when the validator faulted, ErrClosed.
func (s *Service) Validate(ctx context.Context, content, ruleName string, vctx ValidationContext) (*Result, error) {
	s.inflight.RLock()
	defer s.inflight.RUnlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}
	ctx, span := telemetry.StartSpan(ctx, tracerName, "guard.Validate",
		trace.WithAttributes(attribute.String("guard.rule", ruleName)))
	defer span.End()

	res, err := s.validate(ctx, content, ruleName, vctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("guard.success", res.Success),
		attribute.Bool("guard.cached", res.Cached),
		attribute.Int("guard.severity", res.Severity),
	)
	telemetry.RecordError(span, nil)
	return res, nil
}

func (s *Service) validate(ctx context.Context, content, ruleName string, vctx ValidationContext) (*Result, error) {
	rule, err := s.registry.Get(ruleName)
	if err != nil {
		return nil, err
	}
	category := string(rule.Category)
	c, err := s.caches.Get(category)
	if err != nil {
		return nil, fmt.Errorf("%w: cache for rule %q: %w", ErrRuleNotFound, ruleName, err)
	}

	vctx = vctx.clone()
	if vctx.Environment() == "" && s.cfg.Service.Environment != "" {
		vctx["environment"] = s.cfg.Service.Environment
	}
	key := cacheKey(rule.Name, content, vctx)

	if cached, ok := c.Get(ctx, key); ok {
		out := cached.clone()
		out.Cached = true
		out.Duration = 0
		s.monitor.RecordValidation(ctx, monitoring.ValidationEvent{
			Rule: rule.Name, Category: category, Success: out.Success, Cached: true,
		})
		s.monitor.RecordCacheHitRate(ctx, category, c.Stats().HitRate)
		return out, nil
	}

	v, err, shared := s.flight.Do(key, func() (any, error) {
		res, err := s.run(ctx, rule, content, vctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, res.clone())
		s.record(ctx, res)
		s.monitor.RecordCacheHitRate(ctx, category, c.Stats().HitRate)
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	out := v.(*Result).clone()
	if shared {
		out.Cached = true
		out.Duration = 0
	}
	return out, nil
}

// run executes the validator and raises the severity alerts. It does not
// touch the cache.
func (s *Service) run(ctx context.Context, rule rules.Rule, content string, vctx ValidationContext) (*Result, error) {
	severity := EffectiveSeverity(rule.Severity, vctx)
	logger := s.logger.With(
		slog.String("rule", rule.Name),
		slog.String("category", string(rule.Category)),
	)

	start := time.Now()
	ok, err := rule.Check(content)
	elapsed := time.Since(start)
	if err != nil {
		verr := &ValidationError{Rule: rule.Name, Err: err}
		logger.Error("validator faulted", slog.String("error", err.Error()))
		s.monitor.Alerts.Trigger(monitoring.SeverityError,
			fmt.Sprintf("validator for rule %s failed", rule.Name),
			map[string]any{"rule": rule.Name, "category": string(rule.Category), "error": err.Error()})
		return nil, verr
	}

	res := &Result{
		Success:   ok,
		Rule:      rule.Name,
		Category:  rule.Category,
		Severity:  severity.Level(),
		Context:   vctx,
		Timestamp: s.now(),
		Duration:  elapsed,
	}
	if !ok {
		res.Findings = rule.Explain(content)
	}
	logger.Debug("validation complete",
		slog.Bool("success", ok),
		slog.Int("severity", res.Severity),
		slog.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	)

	if !ok {
		s.escalate(ctx, rule, res)
	}
	return res, nil
}

// record appends res to history and records its validation event.
func (s *Service) record(ctx context.Context, res *Result) {
	s.history.Append(ctx, history.Record{
		Rule:      res.Rule,
		Category:  res.Category,
		Severity:  rules.NewSeverity(res.Severity),
		Context:   res.Context.clone(),
		Success:   res.Success,
		Timestamp: res.Timestamp,
	})
	s.monitor.RecordValidation(ctx, monitoring.ValidationEvent{
		Rule:     res.Rule,
		Category: string(res.Category),
		Duration: res.Duration,
		Success:  res.Success,
	})
}

// escalate raises the alert for a failed check at severity 4 or 5 and
// counts failing security rules.
func (s *Service) escalate(ctx context.Context, rule rules.Rule, res *Result) {
	if rule.Category == rules.CategorySecurity {
		s.monitor.CountSecurityIssue(ctx, securityLevel(res.Severity), rule.Name)
		_ = s.monitor.Metrics.Record(ctx, monitoring.MetricVulnerabilityScore,
			float64(res.Severity)/float64(rules.MaxSeverity), map[string]string{"rule": rule.Name})
	}

	var sev monitoring.AlertSeverity
	switch {
	case res.Severity >= 5:
		sev = monitoring.SeverityCritical
	case res.Severity == 4:
		sev = monitoring.SeverityError
	default:
		return
	}
	alertCtx := map[string]any{
		"rule":     rule.Name,
		"category": string(rule.Category),
		"severity": res.Severity,
	}
	if len(res.Findings) > 0 {
		alertCtx["findings"] = append([]string(nil), res.Findings...)
	}
	for k, v := range res.Context {
		if _, taken := alertCtx[k]; !taken {
			alertCtx[k] = v
		}
	}
	s.monitor.Alerts.Trigger(sev, fmt.Sprintf("validation failed: %s", rule.Name), alertCtx)
}

// EffectiveSeverity raises base by one in production and by one more when
// the context is critical, bounded to [1, 5].
func EffectiveSeverity(base rules.Severity, vctx ValidationContext) rules.Severity {
	raise := 0
	if vctx.Environment() == EnvironmentProduction {
		raise++
	}
	if vctx.Critical() {
		raise++
	}
	return base.Raise(raise)
}

func securityLevel(severity int) string {
	switch {
	case severity >= 5:
		return "critical"
	case severity == 4:
		return "high"
	case severity == 3:
		return "medium"
	default:
		return "low"
	}
}

// cacheKey is rule name, content fingerprint and the two context inputs
// that change the result.
func cacheKey(rule, content string, vctx ValidationContext) string {
	sum := sha256.Sum256([]byte(content))
	return rule + ":" + hex.EncodeToString(sum[:]) + ":" +
		vctx.Environment() + ":" + strconv.FormatBool(vctx.Critical())
}

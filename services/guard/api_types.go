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
	"time"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/guard/learning"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// ServiceVersion is the guard API version.
const ServiceVersion = "1.0.0"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ValidateRequest is the request body for POST /v1/guard/validate.
type ValidateRequest struct {
	// Content is the text to check. May be empty.
	Content string `json:"content"`

	// Rule is the rule name (required).
	Rule string `json:"rule" binding:"required"`

	// Context carries "environment", "critical" and any caller keys.
	Context ValidationContext `json:"context,omitempty"`
}

// RecommendationsRequest is the request body for
// POST /v1/guard/recommendations.
type RecommendationsRequest struct {
	Content string `json:"content"`

	// Origin restricts the rules to one origin plus the shared rules.
	// Empty applies every rule.
	Origin string `json:"origin,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RecommendationsResponse is the response for
// POST /v1/guard/recommendations.
type RecommendationsResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Count           int              `json:"count"`
}

// RulesResponse is the response for GET /v1/guard/rules.
type RulesResponse struct {
	Rules  []rules.ExportedRule `json:"rules"`
	Count  int                  `json:"count"`
	Shared map[string]any       `json:"shared,omitempty"`
}

// AlertsResponse is the response for GET /v1/guard/alerts.
type AlertsResponse struct {
	Alerts []monitoring.Alert `json:"alerts"`
	Count  int                `json:"count"`
}

// AuditResponse is the response for GET /v1/guard/audit.
type AuditResponse struct {
	Events []extensions.AuditEvent `json:"events"`
	Count  int                     `json:"count"`
}

// LearnResponse is the response for POST /v1/guard/learn.
type LearnResponse struct {
	Adjustments []learning.Adjustment `json:"adjustments"`
	Records     int                   `json:"records"`
}

// HealthResponse is the response for GET /v1/guard/health.
type HealthResponse struct {
	Status   monitoring.HealthStatus `json:"status"`
	Version  string                  `json:"version"`
	Rules    int                     `json:"rules"`
	Alerts   int                     `json:"active_alerts"`
	Uptime   string                  `json:"uptime"`
	Checked  time.Time               `json:"checked_at"`
	Watchers int                     `json:"alert_subscribers"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

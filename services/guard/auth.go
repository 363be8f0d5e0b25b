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
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
)

// authenticate resolves the bearer token to an identity and stores it on
// the gin context. Unknown tokens get 401 UNAUTHORIZED.
func (h *Handlers) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := getOrCreateRequestID(c)
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))

		info, err := h.ext.AuthProvider.Validate(c.Request.Context(), token)
		if err != nil {
			slog.Warn("Authentication failed",
				"request_id", requestID,
				"path", c.Request.URL.Path,
				"error", err,
			)
			h.audit(c, "auth.failed", "api", c.FullPath(), extensions.OutcomeDenied, nil)
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Error: "Authentication required",
				Code:  "UNAUTHORIZED",
			})
			return
		}
		c.Set(authInfoKey, info)
		c.Next()
	}
}

// require checks that the caller may perform action on resource. Refusals
// get 403 FORBIDDEN and an authz.denied audit event.
func (h *Handlers) require(action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := h.ext.AuthzProvider.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:     authInfo(c),
			Action:   action,
			Resource: resource,
		})
		if err != nil {
			slog.Warn("Authorization denied",
				"request_id", getOrCreateRequestID(c),
				"action", action,
				"resource", resource,
				"error", err,
			)
			h.audit(c, "authz.denied", resource, c.FullPath(), extensions.OutcomeDenied,
				map[string]any{"action": action})
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error: "Not permitted",
				Code:  "FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

func authInfo(c *gin.Context) *extensions.AuthInfo {
	v, ok := c.Get(authInfoKey)
	if !ok {
		return nil
	}
	info, _ := v.(*extensions.AuthInfo)
	return info
}

// audit records one event. Logger failures are logged, never returned.
func (h *Handlers) audit(c *gin.Context, eventType, resource, resourceID, outcome string, meta map[string]any) {
	user := "anonymous"
	if info := authInfo(c); info != nil {
		user = info.Subject
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["client_ip"] = c.ClientIP()
	err := h.ext.AuditLogger.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:  eventType,
		UserID:     user,
		Resource:   resource,
		ResourceID: resourceID,
		Outcome:    outcome,
		RequestID:  getOrCreateRequestID(c),
		Metadata:   meta,
	})
	if err != nil {
		slog.Warn("Audit log failed", "event_type", eventType, "error", err)
	}
}

// HandleListAudit handles GET /v1/guard/audit.
//
// Query Parameters:
//
//	type - Comma-separated event types
//	user - Only events by this subject
//	limit - Maximum events returned, newest first
func (h *Handlers) HandleListAudit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListAudit")

	filter := extensions.AuditFilter{UserID: c.Query("user")}
	if v := c.Query("type"); v != "" {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				filter.EventTypes = append(filter.EventTypes, part)
			}
		}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer", Code: "INVALID_LIMIT"})
			return
		}
		filter.Limit = n
	}

	events, err := h.ext.AuditLogger.Query(c.Request.Context(), filter)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, AuditResponse{Events: events, Count: len(events)})
}

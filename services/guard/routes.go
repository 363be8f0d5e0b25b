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
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/guard/telemetry"
)

// RegisterRoutes registers all guard routes with the router.
//
// Description:
//
//	Registers all /v1/guard/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/guard/validate - Validate content against one rule
//	POST /v1/guard/recommendations - Failing rules with suggestions
//	GET  /v1/guard/metrics - Aggregate cache, health, rule and history view
//	GET  /v1/guard/metrics/export - Every metric series and alert
//	GET  /v1/guard/rules - List rules (category, origin, tag filters)
//	POST /v1/guard/rules - Load a YAML rule document
//	GET  /v1/guard/rules/:name - One rule
//	GET  /v1/guard/alerts - List alerts (severity, active filters)
//	POST /v1/guard/alerts/:id/resolve - Resolve an alert
//	GET  /v1/guard/alerts/stream - WebSocket alert stream
//	POST /v1/guard/learn - Run one learning pass
//	GET  /v1/guard/audit - Recorded audit events
//	GET  /v1/guard/health - Health check, no authentication
//
// Every route except health authenticates the caller. Validation needs
// the validate action, rule loads, alert resolution, learning and the audit
// log need write, everything else needs read.
//
// Example:
//
//	handlers := guard.NewHandlers(svc, extensions.DefaultOptions())
//	v1 := router.Group("/v1")
//	guard.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/guard")
	g.GET("/health", handlers.HandleHealth)

	g.Use(handlers.authenticate())
	{
		read := handlers.require(extensions.ActionRead, "guard")

		g.POST("/validate", handlers.require(extensions.ActionValidate, "content"), handlers.HandleValidate)
		g.POST("/recommendations", handlers.require(extensions.ActionValidate, "content"), handlers.HandleRecommendations)

		g.GET("/metrics", read, handlers.HandleMetrics)
		g.GET("/metrics/export", read, handlers.HandleMetricsExport)

		rulesGroup := g.Group("/rules")
		{
			rulesGroup.GET("", read, handlers.HandleListRules)
			rulesGroup.POST("", handlers.require(extensions.ActionWrite, "rules"), handlers.HandleLoadRules)
			rulesGroup.GET("/:name", read, handlers.HandleGetRule)
		}

		alerts := g.Group("/alerts")
		{
			alerts.GET("", read, handlers.HandleListAlerts)
			alerts.GET("/stream", read, handlers.HandleAlertStream)
			alerts.POST("/:id/resolve", handlers.require(extensions.ActionWrite, "alerts"), handlers.HandleResolveAlert)
		}

		g.POST("/learn", handlers.require(extensions.ActionWrite, "rules"), handlers.HandleLearn)
		g.GET("/audit", handlers.require(extensions.ActionWrite, "audit"), handlers.HandleListAudit)
	}
}

// NewRouter builds the gin engine for svc: tracing and HTTP metrics
// middleware, the /v1/guard routes guarded by ext and, when metricsHandler
// is non-nil, GET /metrics for Prometheus scrapes.
func NewRouter(svc *Service, serviceName string, metricsHandler http.Handler, ext extensions.ServiceOptions) (*gin.Engine, error) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))

	httpMetrics, err := telemetry.NewHTTPMetrics(otel.Meter(tracerName))
	if err != nil {
		return nil, err
	}
	router.Use(httpMetrics.GinMiddleware())
	router.Use(requestLogger())

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, NewHandlers(svc, ext))
	return router, nil
}

// requestLogger logs one line per request at Debug, and at Warn for
// server errors.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(c.Request.Context(), level, "HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Writer.Header().Get("X-Request-ID"),
		)
	}
}

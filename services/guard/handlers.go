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
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/guard/learning"
	"github.com/AleutianAI/AleutianGuard/services/guard/monitoring"
	"github.com/AleutianAI/AleutianGuard/services/guard/rules"
)

// Gin context keys.
const (
	requestIDKey = "guard.request_id"
	authInfoKey  = "guard.auth"
)

// maxRuleDocumentSize bounds POST /v1/guard/rules bodies.
const maxRuleDocumentSize = 1 << 20

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// Handlers contains the HTTP handlers for the guard service.
type Handlers struct {
	svc      *Service
	ext      extensions.ServiceOptions
	limiter  *clientLimiter
	started  time.Time
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers for the given service. The validate
// endpoint is rate limited per client from the server configuration. Nil
// fields of ext get the no-op implementations.
func NewHandlers(svc *Service, ext extensions.ServiceOptions) *Handlers {
	srv := svc.Config().Server
	return &Handlers{
		svc:     svc,
		ext:     ext.WithDefaults(),
		limiter: newClientLimiter(srv.RateLimit, srv.Burst),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// minLimiterIdle is the shortest time a client's bucket is kept after its
// last request.
const minLimiterIdle = 10 * time.Minute

// clientLimiter keeps one token bucket per client address. A zero rate
// disables limiting.
//
// A bucket idle for longer than idle has refilled completely, so it is
// dropped and recreated on the client's next request. Idle buckets are
// swept at most once per idle period, from allow.
type clientLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientBucket
	rate      rate.Limit
	burst     int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(perSecond float64, burst int) *clientLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	idle := time.Duration(float64(burst) / perSecond * float64(time.Second))
	if idle < minLimiterIdle {
		idle = minLimiterIdle
	}
	return &clientLimiter{
		limiters:  make(map[string]*clientBucket),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		idle:      idle,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (l *clientLimiter) allow(client string) bool {
	if l == nil {
		return true
	}
	now := l.now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idle {
		for addr, b := range l.limiters {
			if now.Sub(b.lastSeen) >= l.idle {
				delete(l.limiters, addr)
			}
		}
		l.lastSweep = now
	}
	b, ok := l.limiters[client]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[client] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// tracked returns the number of clients holding a bucket.
func (l *clientLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// HandleValidate handles POST /v1/guard/validate.
//
// Description:
//
//	Validates content against one rule.
//
// Request Body:
//
//	ValidateRequest
//
// Response:
//
//	200 OK: Result (success may be false)
//	400 Bad Request: Malformed body
//	404 Not Found: Unknown rule
//	429 Too Many Requests: Client over its rate limit
//	500 Internal Server Error: The validator faulted
func (h *Handlers) HandleValidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleValidate")

	if !h.limiter.allow(c.ClientIP()) {
		logger.Warn("Rate limit exceeded", "client", c.ClientIP())
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "Too many requests",
			Code:  "RATE_LIMITED",
		})
		return
	}

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	res, err := h.svc.Validate(c.Request.Context(), req.Content, req.Rule, req.Context)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleRecommendations handles POST /v1/guard/recommendations.
//
// Response:
//
//	200 OK: RecommendationsResponse
//	400 Bad Request: Malformed body or unknown origin
//	500 Internal Server Error: A validator faulted
func (h *Handlers) HandleRecommendations(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRecommendations")

	var req RecommendationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	var origin rules.Origin
	if req.Origin != "" {
		o, err := rules.ParseOrigin(req.Origin)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_ORIGIN",
			})
			return
		}
		origin = o
	}

	recs, err := h.svc.GetRecommendations(c.Request.Context(), req.Content, origin)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, RecommendationsResponse{Recommendations: recs, Count: len(recs)})
}

// HandleMetrics handles GET /v1/guard/metrics.
func (h *Handlers) HandleMetrics(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.GetMetrics(c.Request.Context()))
}

// HandleMetricsExport handles GET /v1/guard/metrics/export: the full
// series and alert document written by ExportMetrics.
func (h *Handlers) HandleMetricsExport(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Monitor().Snapshot())
}

// HandleListRules handles GET /v1/guard/rules.
//
// Query Parameters:
//
//	category - Only rules of this category
//	origin - Only rules of this origin
//	tag - Only rules carrying this tag
func (h *Handlers) HandleListRules(c *gin.Context) {
	getOrCreateRequestID(c)

	reg := h.svc.Registry()
	list := reg.All()
	if v := c.Query("category"); v != "" {
		cat, err := rules.ParseCategory(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_CATEGORY"})
			return
		}
		list = keepRules(list, func(r rules.Rule) bool { return r.Category == cat })
	}
	if v := c.Query("origin"); v != "" {
		o, err := rules.ParseOrigin(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_ORIGIN"})
			return
		}
		list = keepRules(list, func(r rules.Rule) bool { return r.Origin == o })
	}
	if v := c.Query("tag"); v != "" {
		list = keepRules(list, func(r rules.Rule) bool { return r.HasTag(v) })
	}

	out := make([]rules.ExportedRule, 0, len(list))
	for _, r := range list {
		out = append(out, r.Export())
	}
	c.JSON(http.StatusOK, RulesResponse{Rules: out, Count: len(out), Shared: reg.SharedMetrics()})
}

// HandleGetRule handles GET /v1/guard/rules/:name.
func (h *Handlers) HandleGetRule(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetRule")

	rule, err := h.svc.Registry().Get(c.Param("name"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, rule.Export())
}

// HandleLoadRules handles POST /v1/guard/rules.
//
// Description:
//
//	Loads a YAML rule document from the request body as one pass. On any
//	error nothing is registered.
//
// Response:
//
//	200 OK: RulesResponse with the full rule set
//	413 Request Entity Too Large: Body over 1 MiB
//	422 Unprocessable Entity: Malformed document or unsupported validator
func (h *Handlers) HandleLoadRules(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadRules")

	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRuleDocumentSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request body", Code: "INVALID_REQUEST"})
		return
	}
	if len(data) > maxRuleDocumentSize {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "Rule document too large", Code: "TOO_LARGE"})
		return
	}

	if err := h.svc.LoadRulesFromConfig(data, "request "+requestID); err != nil {
		h.audit(c, "rules.load", "rules", "", extensions.OutcomeFailure, map[string]any{"error": err.Error()})
		writeError(c, logger, err)
		return
	}
	h.audit(c, "rules.load", "rules", "", extensions.OutcomeSuccess, map[string]any{
		"bytes": len(data),
		"rules": h.svc.Registry().Len(),
	})
	logger.Info("Rules loaded", "rules", h.svc.Registry().Len())
	h.HandleListRules(c)
}

// HandleListAlerts handles GET /v1/guard/alerts.
//
// Query Parameters:
//
//	severity - Comma-separated severities to include
//	active - "true" to return only unresolved alerts
func (h *Handlers) HandleListAlerts(c *gin.Context) {
	getOrCreateRequestID(c)

	var severities []monitoring.AlertSeverity
	if v := c.Query("severity"); v != "" {
		for _, part := range strings.Split(v, ",") {
			sev := monitoring.AlertSeverity(strings.ToLower(strings.TrimSpace(part)))
			if !sev.Valid() {
				c.JSON(http.StatusBadRequest, ErrorResponse{
					Error: "unknown alert severity " + part,
					Code:  "INVALID_SEVERITY",
				})
				return
			}
			severities = append(severities, sev)
		}
	}

	alerts := h.svc.Monitor().Alerts
	var out []monitoring.Alert
	if c.Query("active") == "true" {
		out = alerts.Active(severities...)
	} else {
		out = filterAlerts(alerts.All(), severities)
	}
	if out == nil {
		out = []monitoring.Alert{}
	}
	c.JSON(http.StatusOK, AlertsResponse{Alerts: out, Count: len(out)})
}

// HandleResolveAlert handles POST /v1/guard/alerts/:id/resolve.
func (h *Handlers) HandleResolveAlert(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleResolveAlert")

	alert, err := h.svc.Monitor().Alerts.Resolve(c.Param("id"))
	if err != nil {
		writeError(c, logger, err)
		return
	}
	h.audit(c, "alert.resolve", "alert", alert.ID, extensions.OutcomeSuccess, nil)
	c.JSON(http.StatusOK, alert)
}

// HandleAlertStream handles GET /v1/guard/alerts/stream.
//
// Description:
//
//	Upgrades to a WebSocket and writes every alert triggered after the
//	connection opened as a JSON message. Frames from the client are read
//	and discarded; the stream ends when either side closes.
func (h *Handlers) HandleAlertStream(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleAlertStream")

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	alerts, unsubscribe := h.svc.AlertHub().Subscribe()
	defer unsubscribe()
	logger.Info("Alert stream opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			logger.Info("Alert stream closed by client")
			return
		case <-c.Request.Context().Done():
			return
		case a, ok := <-alerts:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "service closing"),
					time.Now().Add(streamWriteWait))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(a); err != nil {
				logger.Warn("Alert stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// HandleLearn handles POST /v1/guard/learn: one learning pass over the
// in-memory history.
func (h *Handlers) HandleLearn(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLearn")

	records := h.svc.History().Len()
	adjustments := h.svc.LearnFromHistory()
	if adjustments == nil {
		adjustments = []learning.Adjustment{}
	}
	h.audit(c, "learning.run", "rules", "", extensions.OutcomeSuccess, map[string]any{
		"records":     records,
		"adjustments": len(adjustments),
	})
	logger.Info("Learning pass complete", "records", records, "adjustments", len(adjustments))
	c.JSON(http.StatusOK, LearnResponse{Adjustments: adjustments, Records: records})
}

// HandleHealth handles GET /v1/guard/health. It reports 503 while a
// critical alert is unresolved.
func (h *Handlers) HandleHealth(c *gin.Context) {
	health := h.svc.Monitor().Health()
	status := http.StatusOK
	if health.Status == monitoring.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, HealthResponse{
		Status:   health.Status,
		Version:  ServiceVersion,
		Rules:    h.svc.Registry().Len(),
		Alerts:   health.ActiveAlerts,
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Checked:  time.Now().UTC(),
		Watchers: h.svc.AlertHub().Subscribers(),
	})
}

// writeError maps service errors onto the standard error response.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	switch {
	case errors.Is(err, ErrRuleNotFound):
		status, code = http.StatusNotFound, "RULE_NOT_FOUND"
	case errors.Is(err, monitoring.ErrAlertNotFound):
		status, code = http.StatusNotFound, "ALERT_NOT_FOUND"
	case errors.Is(err, ErrValidation):
		status, code = http.StatusInternalServerError, "VALIDATION_ERROR"
	case errors.Is(err, ErrConfig), errors.Is(err, ErrUnsupportedOperation), errors.Is(err, ErrDuplicateRule):
		status, code = http.StatusUnprocessableEntity, "CONFIG_ERROR"
	case errors.Is(err, ErrClosed):
		status, code = http.StatusServiceUnavailable, "SERVICE_CLOSED"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error", err, "code", code)
	} else {
		logger.Warn("Request rejected", "error", err, "code", code)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// getOrCreateRequestID extracts or generates a request ID. Repeated calls
// within one request return the same ID.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDKey, requestID)
	c.Header("X-Request-ID", requestID)
	return requestID
}

func keepRules(in []rules.Rule, keep func(rules.Rule) bool) []rules.Rule {
	out := in[:0:0]
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func filterAlerts(in []monitoring.Alert, severities []monitoring.AlertSeverity) []monitoring.Alert {
	if len(severities) == 0 {
		return in
	}
	want := make(map[monitoring.AlertSeverity]bool, len(severities))
	for _, s := range severities {
		want[s] = true
	}
	out := make([]monitoring.Alert, 0, len(in))
	for _, a := range in {
		if want[a.Severity] {
			out = append(out, a)
		}
	}
	return out
}

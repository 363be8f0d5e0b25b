// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGuard/pkg/extensions"
	"github.com/AleutianAI/AleutianGuard/services/guard"
	"github.com/AleutianAI/AleutianGuard/services/guard/config"
	"github.com/AleutianAI/AleutianGuard/services/guard/telemetry"
)

func (a *app) newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the guard HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port > 0 {
				a.cfg.Server.Port = port
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// serve runs the API until SIGINT or SIGTERM, then shuts down within
// Server.ShutdownTimeout.
func (a *app) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := a.logger.Slog()
	if a.verbose {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	svc, err := a.newService()
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("Service close failed", slog.String("error", err.Error()))
		}
	}()
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	ext, err := apiExtensions(a.cfg.Server, logger)
	if err != nil {
		return err
	}
	router, err := guard.NewRouter(svc, a.cfg.Service.Name, telemetry.MetricsHandler(), ext)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting guard server",
			slog.String("address", srv.Addr),
			slog.Int("rules", svc.Registry().Len()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down guard server")
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// apiExtensions builds access control and auditing for the server.
// Without configured tokens the API stays open and every caller is a local
// admin; audit events are kept in memory either way.
func apiExtensions(srv config.ServerConfig, logger *slog.Logger) (extensions.ServiceOptions, error) {
	ext := extensions.DefaultOptions().
		WithAudit(extensions.NewMemoryAuditLogger(srv.AuditCapacity, logger.With("component", "audit")))
	if len(srv.Tokens) == 0 {
		logger.Warn("No API tokens configured, the guard API is unauthenticated")
		return ext, nil
	}
	tokens, err := extensions.NewTokenAuthProvider(srv.Tokens)
	if err != nil {
		return extensions.ServiceOptions{}, fmt.Errorf("api tokens: %w", err)
	}
	return ext.WithAuth(tokens).WithAuthz(&extensions.RoleAuthzProvider{}), nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/gate"
	"github.com/holomush/gatekeeper/internal/httpapi"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API with the configured auth strategy, plus the
metrics and health endpoints when metrics.addr is set.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := setupLogging(loaded.Config.Log)
			if err != nil {
				return err
			}
			if loaded.File != "" {
				logger.Info("loaded config", "path", loaded.File)
			}
			return runServe(cmd.Context(), loaded.Config, logger, nil)
		},
	}
}

// runServe serves until ctx ends, SIGINT or SIGTERM arrives, or a server fails.
func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer comps.Close()

	var ready atomic.Bool
	var metrics *observability.Metrics
	var obsServer ObservabilityServer
	var obsErrCh <-chan error
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, logger)
		obsErrCh, err = obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		metrics = obsServer.Metrics()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	api := httpapi.New(comps.service, comps.gate,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics),
		httpapi.WithSessionCookie(cfg.Auth.SessionName),
		httpapi.WithCookieTTL(cfg.Auth.SessionDuration.Std()),
		httpapi.WithSecureCookie(cfg.Auth.CookieSecure),
		httpapi.WithCORSOrigins(cfg.Server.CORSOrigins),
	)

	listener, err := deps.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
		}
		return nil
	})
	if obsErrCh != nil {
		g.Go(func() error {
			select {
			case err, ok := <-obsErrCh:
				if ok && err != nil {
					return oops.Code("OBSERVABILITY_SERVE_FAILED").Wrap(err)
				}
			case <-gctx.Done():
			}
			return nil
		})
	}
	if janitorEnabled(cfg, comps.service) {
		ttl := cfg.Auth.SessionDuration.Std()
		g.Go(func() error {
			runJanitor(gctx, comps.service, ttl, pruneInterval(ttl), logger)
			return nil
		})
	}

	ready.Store(true)
	mode, _ := cfg.GateMode() //nolint:errcheck // validated by config.Load
	logger.Info("gatekeeper ready",
		"addr", listener.Addr().String(),
		"mode", string(mode),
		"users_store", cfg.Storage.Users,
		"sessions_store", cfg.Storage.Sessions,
	)
	if deps.OnReady != nil {
		deps.OnReady(listener.Addr().String())
	}

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

// janitorEnabled reports whether expired sessions are deleted in the
// background. Only session_db_auth owns session expiry; the other modes keep
// records until an explicit destroy.
func janitorEnabled(cfg config.Config, svc *auth.Service) bool {
	mode, err := cfg.GateMode()
	if err != nil || mode != gate.ModePersistedSession {
		return false
	}
	return svc != nil && svc.Persisted() && cfg.Auth.SessionDuration.Std() > 0
}

// pruneInterval is how often the janitor runs for a session ttl.
func pruneInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/2, time.Minute), time.Hour)
}

// runJanitor deletes sessions older than ttl every interval until ctx ends.
func runJanitor(ctx context.Context, svc *auth.Service, ttl, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruneOnce(ctx, svc, ttl, logger)
		}
	}
}

func pruneOnce(ctx context.Context, svc *auth.Service, ttl time.Duration, logger *slog.Logger) {
	n, err := svc.PruneSessions(ctx, ttl)
	if err != nil {
		if ctx.Err() == nil {
			errutil.LogError(logger, "session pruning failed", err)
		}
		return
	}
	observability.RecordSessionsPruned(n)
	if n > 0 {
		logger.Info("pruned expired sessions", "count", n)
	}
}

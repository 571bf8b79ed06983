// Package app provides the top-level application lifecycle management for
// the sidestake server. It wires together all dependencies (stores, caches,
// the event bus, notifications) and runs the HTTP server, the WebSocket hub,
// and the metrics sidecar until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sidestake/sidestake/internal/betting"
	"github.com/sidestake/sidestake/internal/config"
	"github.com/sidestake/sidestake/internal/metrics"
	"github.com/sidestake/sidestake/internal/server"
	"github.com/sidestake/sidestake/internal/server/handler"
	"github.com/sidestake/sidestake/internal/server/ws"
)

// shutdownTimeout bounds graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the server
// goroutines, and blocks until the context is cancelled. On return it runs
// all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.Int("port", a.cfg.Server.Port),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svc := betting.NewService(deps.Tx, deps.Stores, deps.LeaderboardStore, a.logger)
	if deps.LeaderboardCache != nil {
		svc = svc.WithCache(deps.LeaderboardCache)
	}
	if deps.Bus != nil {
		svc = svc.WithBus(deps.Bus)
	}
	if deps.Notifier != nil {
		svc = svc.WithNotifier(deps.Notifier)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Identity:    handler.NewIdentityHandler(svc, a.logger),
		Bets:        handler.NewBetHandler(svc, a.logger),
		Leaderboard: handler.NewLeaderboardHandler(svc, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if hub != nil {
		g.Go(func() error {
			// The hub exits with context.Canceled on normal shutdown.
			if err := hub.Run(gctx); err != nil && gctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	if a.cfg.Metrics.Enabled {
		msrv := metrics.NewServer(a.cfg.Metrics.Port, deps.HealthChecks...)
		g.Go(func() error {
			a.logger.Info("metrics: starting", slog.Int("port", a.cfg.Metrics.Port))
			if err := msrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("app: metrics listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return msrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil && ctx.Err() != nil {
		// Normal shutdown path.
		err = nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/config"
	"github.com/cimillas/paygate/internal/observability"
	"github.com/cimillas/paygate/internal/pollguard"
	"github.com/cimillas/paygate/internal/signature"
	transporthttp "github.com/cimillas/paygate/internal/transport/http"
	"github.com/cimillas/paygate/internal/webhook"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Run the HTTP service: webhook intake, order sessions, status polling and,
when ADMIN_JWT_SECRET is set, the admin endpoints.

Pending migrations are applied before the listener starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateServe(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.version, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) error {
	if cfg.EnvFile != "" {
		logger.Info("loaded env file", "path", cfg.EnvFile)
	}
	logger.Info("configuration", "config", cfg)

	shutdownTelemetry, err := observability.Setup(ctx, observability.Config{
		ServiceName:    "paygate",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Insecure:       true,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	store, err := openStore(startupCtx, cfg)
	if err != nil {
		return err
	}
	defer store.close()
	if err := store.migrate(startupCtx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info("order store ready", "driver", store.driver)

	clk := clock.NewSystem()
	gw := newGatewayClient(cfg, logger)
	reconciler := newReconciler(cfg, store, gw, clk, logger)

	guard, closeGuard := newPollGuard(startupCtx, cfg, clk, logger)
	defer closeGuard()

	dispatcher, err := webhook.NewDispatcher(reconciler, logger)
	if err != nil {
		return err
	}
	sessions := app.NewSessionService(store, gw, clk, cfg.DefaultCurrency,
		app.WithSessionExpiry(cfg.SessionExpiry),
		app.WithMaxAmount(cfg.MaxOrderAmount),
		app.WithSessionLogger(logger),
	)
	status := app.NewStatusService(store, gw, reconciler, guard, cfg.StatusPollInterval, logger)

	routerCfg := transporthttp.RouterConfig{
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		AdminJWTSecret: cfg.AdminJWTSecret,
		Verifier:       signature.NewVerifier(cfg.Gateway.Secret, signature.WithMaxAge(cfg.WebhookMaxAge, clk)),
		Dispatcher:     dispatcher,
		Status:         status,
		Sessions:       sessions,
		Store:          store,
	}
	if cfg.AdminJWTSecret != "" {
		routerCfg.Admin = app.NewAdminService(store, gw, reconciler)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set, admin endpoints disabled")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           transporthttp.NewRouter(routerCfg),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logger.Info("api listening", "addr", server.Addr)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- server.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// newPollGuard prefers Redis so the poll interval holds across replicas. An
// unreachable Redis falls back to the in-process guard.
func newPollGuard(ctx context.Context, cfg config.Config, clk clock.Clock, logger *slog.Logger) (app.PollGuard, func()) {
	memory := func() (app.PollGuard, func()) {
		return pollguard.NewMemory(cfg.StatusPollInterval, clk), func() {}
	}
	if cfg.RedisURL == "" {
		return memory()
	}

	guard, err := pollguard.NewRedis(cfg.RedisURL, cfg.StatusPollInterval)
	if err != nil {
		logger.Warn("invalid REDIS_URL, using in-process poll guard", "error", err)
		return memory()
	}
	if err := guard.Ping(ctx); err != nil {
		logger.Warn("redis unreachable, using in-process poll guard", "error", err)
		_ = guard.Close()
		return memory()
	}
	return guard, func() { _ = guard.Close() }
}

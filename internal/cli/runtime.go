package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cimillas/paygate/internal/app"
	"github.com/cimillas/paygate/internal/clock"
	"github.com/cimillas/paygate/internal/config"
	"github.com/cimillas/paygate/internal/gateway"
	"github.com/cimillas/paygate/internal/observability"
	"github.com/cimillas/paygate/internal/storage/postgres"
	"github.com/cimillas/paygate/internal/storage/sqlite"
	"github.com/cimillas/paygate/migrations"
	"github.com/jackc/pgx/v5/pgxpool"
)

const startupTimeout = 10 * time.Second

// orderStore is an opened Order Store plus its lifecycle hooks.
type orderStore struct {
	app.OrderStore
	driver  string
	migrate func(ctx context.Context) error
	pending func(ctx context.Context) ([]string, error)
	close   func()
}

func openStore(ctx context.Context, cfg config.Config) (*orderStore, error) {
	driver, dsn := cfg.StoreDriver()
	switch driver {
	case "sqlite":
		db, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		store := sqlite.New(db)
		return &orderStore{
			OrderStore: store,
			driver:     driver,
			migrate:    store.Migrate,
			// The embedded schema is idempotent and has no versions to report.
			pending: func(context.Context) ([]string, error) { return nil, nil },
			close:   func() { _ = db.Close() },
		}, nil
	default:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect to db: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("db ping: %w", err)
		}
		return &orderStore{
			OrderStore: postgres.NewOrderRepository(pool),
			driver:     driver,
			migrate: func(ctx context.Context) error {
				return migrations.Apply(ctx, pool)
			},
			pending: func(ctx context.Context) ([]string, error) {
				return migrations.Pending(ctx, pool)
			},
			close: pool.Close,
		}, nil
	}
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, w)
	if err != nil {
		return nil, err
	}
	return logger.With("service", "paygate"), nil
}

// newGatewayClient returns nil when no gateway is configured.
func newGatewayClient(cfg config.Config, logger *slog.Logger) gateway.Client {
	if cfg.Gateway.BaseURL == "" || cfg.Gateway.AppID == "" {
		return nil
	}
	return gateway.NewHTTPClient(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		AppID:      cfg.Gateway.AppID,
		Secret:     cfg.Gateway.Secret,
		APIVersion: cfg.Gateway.APIVersion,
		Timeout:    cfg.Gateway.Timeout,
	}, logger)
}

func newReconciler(cfg config.Config, store app.OrderStore, gw gateway.Client, clk clock.Clock, logger *slog.Logger) *app.Reconciler {
	return app.NewReconciler(store, gw, clk,
		app.WithUnclassifiedResolution(cfg.ResolveUnclassified),
		app.WithReconcilerLogger(logger),
	)
}

package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/modules/config"
	"ev_scanner/internal/modules/postgres/service"
	"ev_scanner/pkg/db"
)

// Module отдаёт *service.Archive или nil, если postgres.dsn пуст.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, log *zap.Logger) (*service.Archive, error) {
				if cfg.Postgres.DSN == "" {
					log.Info("postgres.dsn is empty, verdict archive disabled")
					return nil, nil
				}
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.Postgres.DSN,
					MaxConns: 4,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}
				tx := db.NewPgTxManager(poolMaster)
				archive := service.NewArchive(tx)

				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if err := tx.Ping(ctx); err != nil {
							return fmt.Errorf("ping postgres: %w", err)
						}
						log.Info("connected to postgres, verdict archive enabled")
						return archive.EnsureSchema(ctx)
					},
					OnStop: func(context.Context) error {
						tx.Close()
						return nil
					},
				})
				return archive, nil
			},
		),
	)
}

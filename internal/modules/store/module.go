package store

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/modules/config"
	"ev_scanner/internal/modules/store/service"
)

// Module отдаёт service.Store: Redis, если задан redis.addr, иначе память.
func Module() fx.Option {
	return fx.Module("store",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) service.Store {
				if cfg.Redis.Addr == "" {
					log.Warn("redis.addr is empty, metrics are kept in process memory")
					return service.NewMemoryStore()
				}
				rs := service.NewRedisStore(service.RedisConfig{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if err := rs.Ping(ctx); err != nil {
							return err
						}
						log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr), zap.Int("db", cfg.Redis.DB))
						return nil
					},
					OnStop: func(ctx context.Context) error {
						return rs.Close()
					},
				})
				return rs
			},
		),
	)
}

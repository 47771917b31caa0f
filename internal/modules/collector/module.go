package collector

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	feed "ev_scanner/internal/modules/coinbase_ws/service"
	"ev_scanner/internal/modules/collector/service"
	"ev_scanner/internal/modules/config"
	health "ev_scanner/internal/modules/health/service"
	store "ev_scanner/internal/modules/store/service"
)

// Module отдаёт *service.Collector. Фид поднимает бутстрап, когда известен
// первый набор инструментов; здесь только закрытие на остановке.
func Module() fx.Option {
	return fx.Module("collector",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config, st store.Store, state *health.State, log *zap.Logger) *service.Collector {
				return service.New(ctx, service.Config{
					Benchmark: cfg.Scanner.Benchmark,
					Feed: feed.Config{
						URL:        cfg.Coinbase.WSURL,
						MinBackoff: cfg.Feed.MinBackoff,
						MaxBackoff: cfg.Feed.MaxBackoff,
					},
				}, st, state, log.Named("collector"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Collector) {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					c.Stop()
					return nil
				},
			})
		}),
	)
}

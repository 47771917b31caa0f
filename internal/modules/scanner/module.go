package scanner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	collector "ev_scanner/internal/modules/collector/service"
	"ev_scanner/internal/modules/config"
	archive "ev_scanner/internal/modules/postgres/service"
	"ev_scanner/internal/modules/scanner/service"
	store "ev_scanner/internal/modules/store/service"
	"ev_scanner/internal/notify"
)

func Module() fx.Option {
	return fx.Module("scanner",
		fx.Provide(
			func(cfg *config.Config, st store.Store, log *zap.Logger) *service.Engine {
				return service.NewEngine(service.EngineConfig{
					Benchmark:       cfg.Scanner.Benchmark,
					LiqSpreadBpsMax: cfg.Scanner.LiqSpreadBpsMax,
					LiqDepthUSDMin:  cfg.Scanner.LiqDepthUSDMin,
				}, st, log.Named("engine"))
			},
			func(cfg *config.Config, e *service.Engine, st store.Store, a *archive.Archive, n notify.Notifier, log *zap.Logger) *service.Service {
				var arch service.Archiver
				if a != nil {
					arch = a
				}
				return service.NewService(service.ServiceConfig{
					NotifyMinReadiness: cfg.Scanner.NotifyMinReadiness,
				}, e, st, arch, n, log.Named("scanner"))
			},
		),
		fx.Invoke(func(ctx context.Context, cfg *config.Config, cr *cron.Cron, svc *service.Service, c *collector.Collector, log *zap.Logger) error {
			for _, expr := range cfg.Scanner.Schedules {
				expr := expr
				if _, err := cr.AddFunc(expr, func() {
					log.Info("scheduled scan triggered", zap.String("schedule", expr))
					if _, err := svc.Run(ctx, c.Tracked()); err != nil {
						log.Error("scheduled scan failed", zap.Error(err))
					}
				}); err != nil {
					return fmt.Errorf("schedule scan %q: %w", expr, err)
				}
			}
			return nil
		}),
	)
}

package bootstrap

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/exchange"
	bootstrap "ev_scanner/internal/modules/bootstrap/service"
	collector "ev_scanner/internal/modules/collector/service"
	"ev_scanner/internal/modules/config"
	health "ev_scanner/internal/modules/health/service"
	store "ev_scanner/internal/modules/store/service"
)

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(
			func(cfg *config.Config) *exchange.Client {
				return exchange.NewClient(exchange.Config{
					BaseURL:   cfg.Coinbase.RESTBase,
					UserAgent: cfg.Coinbase.UserAgent,
					Timeout:   cfg.Coinbase.HTTPTimeout,
				})
			},
			func(cfg *config.Config, api *exchange.Client, st store.Store, log *zap.Logger) *bootstrap.Universe {
				return bootstrap.NewUniverse(bootstrap.UniverseConfig{
					TopN:          cfg.Universe.TopN,
					QuoteCurrency: cfg.Universe.QuoteCurrency,
					Anchors:       cfg.Universe.Anchors,
					Concurrency:   cfg.Universe.Concurrency,
				}, api, st, log.Named("universe"))
			},
			func(cfg *config.Config, api *exchange.Client, st store.Store, log *zap.Logger) *bootstrap.Warmuper {
				return bootstrap.NewWarmuper(bootstrap.WarmupConfig{
					HourlyKeep:  cfg.Universe.HourlyKeep,
					DailyKeep:   cfg.Universe.DailyKeep,
					Concurrency: cfg.Universe.Concurrency,
				}, api, st, log.Named("warmup"))
			},
			func(u *bootstrap.Universe, w *bootstrap.Warmuper, c *collector.Collector, state *health.State, log *zap.Logger) *bootstrap.Runner {
				return bootstrap.NewRunner(u, w, c, state, log.Named("bootstrap"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config, r *bootstrap.Runner, cr *cron.Cron, log *zap.Logger) error {
			if _, err := cr.AddFunc(every(cfg.Universe.RefreshInterval.String()), func() {
				if err := r.RefreshUniverse(ctx); err != nil {
					log.Warn("universe refresh failed", zap.Error(err))
				}
			}); err != nil {
				return fmt.Errorf("schedule universe refresh: %w", err)
			}
			if _, err := cr.AddFunc(every(cfg.Universe.CandleRefreshInterval.String()), func() {
				if _, err := r.RefreshCandles(ctx); err != nil {
					log.Warn("candle refresh failed", zap.Error(err))
				}
			}); err != nil {
				return fmt.Errorf("schedule candle refresh: %w", err)
			}

			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						if err := r.Bootstrap(ctx); err != nil {
							log.Error("bootstrap failed, retrying on next refresh", zap.Error(err))
							return
						}
						log.Info("bootstrap done")
					}()
					return nil
				},
			})
			return nil
		}),
	)
}

func every(d string) string { return "@every " + d }

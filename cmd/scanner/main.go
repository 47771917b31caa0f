package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/modules/bootstrap"
	"ev_scanner/internal/modules/collector"
	"ev_scanner/internal/modules/config"
	"ev_scanner/internal/modules/health"
	"ev_scanner/internal/modules/postgres"
	"ev_scanner/internal/modules/scanner"
	"ev_scanner/internal/modules/scheduler"
	"ev_scanner/internal/modules/store"
	"ev_scanner/internal/notify"
	"ev_scanner/pkg/logger"
	"ev_scanner/pkg/tracing"
)

func main() {
	app := fx.New(
		fx.Provide(
			// контекст процесса, отменяется на остановке
			func(lc fx.Lifecycle) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
				return ctx
			},
			func(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
				log, err := logger.New(logger.Config{
					Level:   cfg.Log.Level,
					Service: cfg.Log.Service,
				})
				if err != nil {
					return nil, err
				}
				if dump, err := cfg.Redacted(); err == nil {
					log.Debug("effective config\n" + dump)
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						_ = log.Sync()
						return nil
					},
				})
				return log, nil
			},
		),
		config.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
			_, closer, err := tracing.InitTracer(tracing.Config{
				Enabled:     cfg.Tracing.Enabled,
				ServiceName: cfg.Log.Service,
				Host:        cfg.Tracing.Host,
				Port:        cfg.Tracing.Port,
				SampleRate:  cfg.Tracing.SampleRate,
			}, log)
			if err != nil {
				return err
			}
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					closer()
					return nil
				},
			})
			return nil
		}),
		store.Module(),
		scheduler.Module(),
		notify.Module(),
		postgres.Module(),
		collector.Module(),
		health.Module(),
		bootstrap.Module(),
		scanner.Module(),
	)
	app.Run()
}

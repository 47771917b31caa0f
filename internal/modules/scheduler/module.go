package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/modules/config"
)

// cronLogger: адаптер zap под cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New: планировщик в заданной таймзоне. Задача, не успевшая завершиться,
// пропускает следующий запуск; паника в задаче не роняет процесс.
func New(timezone string, log *zap.Logger) (*cron.Cron, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", timezone)
	}
	cl := cronLogger{log: log.Sugar()}
	return cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	), nil
}

func Module() fx.Option {
	return fx.Module("scheduler",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) (*cron.Cron, error) {
				return New(cfg.Scanner.Timezone, log.Named("cron"))
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *cron.Cron, cfg *config.Config, log *zap.Logger) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					c.Start()
					log.Info("scheduler started",
						zap.String("timezone", cfg.Scanner.Timezone),
						zap.Int("jobs", len(c.Entries())))
					return nil
				},
				OnStop: func(ctx context.Context) error {
					select {
					case <-c.Stop().Done():
					case <-ctx.Done():
					}
					return nil
				},
			})
		}),
	)
}

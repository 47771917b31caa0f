package notify

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"ev_scanner/internal/modules/config"
)

// Module создаёт нотифайер один раз на процесс: Telegram при заданном
// telegram.token, иначе запись в лог.
func Module() fx.Option {
	return fx.Module("notify",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) (Notifier, error) {
				l := log.Named("notify")
				if cfg.Telegram.Token == "" {
					l.Warn("telegram.token is empty, notifications go to log")
					return NewLog(l), nil
				}
				return NewTelegram(cfg.Telegram.Token, l)
			},
		),
	)
}

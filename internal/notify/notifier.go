package notify

import (
	"context"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ev_scanner/internal/models"
)

const Title = "EV Crypto Scan"

type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Notifier доставляет уведомление на набор зарегистрированных токенов.
type Notifier interface {
	Notify(ctx context.Context, tokens []string, n Notification) error
}

// ShouldNotify: BUY всегда, SETUP_FORMING только с высокой готовностью.
func ShouldNotify(r models.ScanResult, minReadiness int) bool {
	switch r.State {
	case models.StateBuy:
		return true
	case models.StateSetupForming:
		return r.Readiness() >= minReadiness
	}
	return false
}

// FromResult собирает пуш: заголовок, первая строка вывода и данные вердикта.
func FromResult(r models.ScanResult) Notification {
	return Notification{
		Title: Title,
		Body:  r.Headline(),
		Data: map[string]string{
			"state":          string(r.State),
			"productId":      r.ProductID,
			"readinessScore": strconv.Itoa(r.Readiness()),
		},
	}
}

type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram шлёт уведомления в чаты; токеном устройства служит chat id.
type Telegram struct {
	bot sender
	log *zap.Logger
}

func NewTelegram(token string, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram bot")
	}
	return &Telegram{bot: b, log: log}, nil
}

func newTelegramWithSender(s sender, log *zap.Logger) *Telegram {
	return &Telegram{bot: s, log: log}
}

// Notify пытается доставить всем; возвращает первую ошибку отправки.
func (t *Telegram) Notify(ctx context.Context, tokens []string, n Notification) error {
	text := n.Title + "\n" + n.Body
	var firstErr error
	sent := 0
	for _, tok := range tokens {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			t.log.Debug("skip non-telegram token", zap.String("token", tok))
			continue
		}
		if _, err := t.bot.Send(tgbot.NewMessage(chatID, text)); err != nil {
			t.log.Warn("telegram send failed", zap.Int64("chat", chatID), zap.Error(err))
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "send to %d", chatID)
			}
			continue
		}
		sent++
	}
	t.log.Info("notification sent", zap.Int("delivered", sent), zap.Int("tokens", len(tokens)))
	return firstErr
}

// Log: нотифайер без внешней доставки, пишет уведомление в лог.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, tokens []string, n Notification) error {
	l.log.Info("notification",
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Any("data", n.Data),
		zap.Int("tokens", len(tokens)))
	return nil
}

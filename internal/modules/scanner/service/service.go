package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
	"ev_scanner/internal/notify"
	"ev_scanner/pkg/tracing"
)

const (
	historyLimit = 200
	archiveLimit = 1000
	buyWindow    = 7 * 24 * time.Hour
)

// Archiver: необязательный журнал вердиктов.
type Archiver interface {
	Save(ctx context.Context, r models.ScanResult) error
	Recent(ctx context.Context, limit int) ([]models.ScanResult, error)
}

type ServiceConfig struct {
	NotifyMinReadiness int
}

// Service оборачивает Engine: сохраняет вердикт, обновляет счётчики
// гардрейла и рассылает уведомления. Сканы в процессе сериализованы.
type Service struct {
	cfg      ServiceConfig
	engine   *Engine
	store    store.Store
	archive  Archiver
	notifier notify.Notifier
	log      *zap.Logger

	sf singleflight.Group
}

func NewService(cfg ServiceConfig, engine *Engine, st store.Store, archive Archiver, n notify.Notifier, log *zap.Logger) *Service {
	if cfg.NotifyMinReadiness <= 0 {
		cfg.NotifyMinReadiness = 70
	}
	return &Service{
		cfg:      cfg,
		engine:   engine,
		store:    st,
		archive:  archive,
		notifier: n,
		log:      log,
	}
}

// Run выполняет один скан. Параллельные вызовы, пришедшие во время
// скана, получают его же результат. Начатый скан доводится до конца:
// отмена ctx вызывающего (обрыв HTTP, остановка) на него не влияет.
func (s *Service) Run(ctx context.Context, productIDs []string) (models.ScanResult, error) {
	v, err, shared := s.sf.Do("scan", func() (interface{}, error) {
		return s.run(context.WithoutCancel(ctx), productIDs)
	})
	if err != nil {
		return models.ScanResult{}, err
	}
	if shared {
		s.log.Debug("scan result shared with concurrent caller")
	}
	return v.(models.ScanResult), nil
}

func (s *Service) run(ctx context.Context, productIDs []string) (_ models.ScanResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "scanner.service.run")
	defer func() { tracing.Finish(span, err) }()

	started := time.Now()
	r, err := s.engine.Scan(ctx, productIDs)
	if err != nil {
		return models.ScanResult{}, errors.Wrap(err, "scan")
	}
	span.SetTag("state", string(r.State))

	if err = s.persist(ctx, r); err != nil {
		return models.ScanResult{}, err
	}

	s.log.Info("scan finished",
		zap.String("id", r.ID),
		zap.String("state", string(r.State)),
		zap.String("product", r.ProductID),
		zap.Int("readiness", r.Readiness()),
		zap.Int("products", len(productIDs)),
		zap.Duration("took", time.Since(started)))

	if s.archive != nil {
		if err := s.archive.Save(ctx, r); err != nil {
			s.log.Error("archive verdict failed", zap.String("id", r.ID), zap.Error(err))
		}
	}
	s.notify(ctx, r)
	return r, nil
}

func (s *Service) persist(ctx context.Context, r models.ScanResult) error {
	raw, err := sonic.MarshalString(r)
	if err != nil {
		return errors.Wrap(err, "encode verdict")
	}
	if err := s.store.Set(ctx, store.KeyScanLatest, raw); err != nil {
		return errors.Wrap(err, "store latest")
	}
	if err := s.store.LPush(ctx, store.KeyScanHistory, raw); err != nil {
		return errors.Wrap(err, "push history")
	}
	if err := s.store.LTrim(ctx, store.KeyScanHistory, 0, historyLimit-1); err != nil {
		return errors.Wrap(err, "trim history")
	}

	switch r.State {
	case models.StateBuy:
		if _, err := s.store.Incr(ctx, store.KeyBuysLast7d); err != nil {
			return errors.Wrap(err, "buy counter")
		}
		if err := s.store.Expire(ctx, store.KeyBuysLast7d, buyWindow); err != nil {
			return errors.Wrap(err, "buy counter ttl")
		}
		if err := s.store.Set(ctx, store.KeyNoTradeStreak, 0); err != nil {
			return errors.Wrap(err, "reset streak")
		}
	case models.StateNoTrade:
		if _, err := s.store.Incr(ctx, store.KeyNoTradeStreak); err != nil {
			return errors.Wrap(err, "no-trade streak")
		}
	default:
		if err := s.store.Set(ctx, store.KeyNoTradeStreak, 0); err != nil {
			return errors.Wrap(err, "reset streak")
		}
	}
	return nil
}

func (s *Service) notify(ctx context.Context, r models.ScanResult) {
	if s.notifier == nil || !notify.ShouldNotify(r, s.cfg.NotifyMinReadiness) {
		return
	}
	tokens, err := s.store.SMembers(ctx, store.KeyDeviceTokens)
	if err != nil {
		s.log.Error("load device tokens failed", zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}
	if err := s.notifier.Notify(ctx, tokens, notify.FromResult(r)); err != nil {
		s.log.Warn("notify failed", zap.String("id", r.ID), zap.Error(err))
	}
}

// Latest: последний сохранённый вердикт; ok=false, если сканов ещё не было.
func (s *Service) Latest(ctx context.Context) (models.ScanResult, bool, error) {
	raw, ok, err := s.store.Get(ctx, store.KeyScanLatest)
	if err != nil || !ok {
		return models.ScanResult{}, false, err
	}
	var r models.ScanResult
	if err := sonic.UnmarshalString(raw, &r); err != nil {
		return models.ScanResult{}, false, errors.Wrap(err, "decode latest")
	}
	return r, true, nil
}

// History: последние n вердиктов, от новых к старым. Глубже списка в сторе
// читаем из архива, если он подключён.
func (s *Service) History(ctx context.Context, n int) ([]models.ScanResult, error) {
	if n > historyLimit && s.archive != nil {
		if n > archiveLimit {
			n = archiveLimit
		}
		out, err := s.archive.Recent(ctx, n)
		if err != nil {
			return nil, errors.Wrap(err, "load archived history")
		}
		return out, nil
	}
	if n <= 0 || n > historyLimit {
		n = historyLimit
	}
	rows, err := s.store.LRange(ctx, store.KeyScanHistory, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]models.ScanResult, 0, len(rows))
	for _, raw := range rows {
		var r models.ScanResult
		if err := sonic.UnmarshalString(raw, &r); err != nil {
			s.log.Warn("skip bad history entry", zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

package service

import (
	"context"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ev_scanner/internal/exchange"
	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
)

type CandleSource interface {
	GetCandles(ctx context.Context, productID string, granularity int) ([]models.Candle, error)
}

type WarmupConfig struct {
	HourlyKeep  int // 200
	DailyKeep   int // 120
	Concurrency int
}

// Warmuper подтягивает часовые и дневные свечи по REST и кладёт хвосты в стор.
type Warmuper struct {
	cfg   WarmupConfig
	api   CandleSource
	store store.Store
	log   *zap.Logger
}

func NewWarmuper(cfg WarmupConfig, api CandleSource, st store.Store, log *zap.Logger) *Warmuper {
	if cfg.HourlyKeep <= 0 {
		cfg.HourlyKeep = 200
	}
	if cfg.DailyKeep <= 0 {
		cfg.DailyKeep = 120
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Warmuper{cfg: cfg, api: api, store: st, log: log}
}

// Warmup возвращает число инструментов, для которых свечи обновились.
// Ошибка по отдельному инструменту логируется и пропускается.
func (w *Warmuper) Warmup(ctx context.Context, productIDs []string) (int, error) {
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, id := range productIDs {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := w.refresh(gctx, id); err != nil {
				w.log.Warn("candle refresh failed", zap.String("product", id), zap.Error(err))
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return int(done.Load()), err
	}
	w.log.Info("candles refreshed", zap.Int64("products", done.Load()), zap.Int("requested", len(productIDs)))
	return int(done.Load()), nil
}

func (w *Warmuper) refresh(ctx context.Context, id string) error {
	hourly, err := w.api.GetCandles(ctx, id, exchange.GranularityHour)
	if err != nil {
		return err
	}
	daily, err := w.api.GetCandles(ctx, id, exchange.GranularityDay)
	if err != nil {
		return err
	}
	if err := w.put(ctx, store.CandleKey(id, store.Candles1h), models.LastCandles(hourly, w.cfg.HourlyKeep)); err != nil {
		return err
	}
	return w.put(ctx, store.CandleKey(id, store.Candles1d), models.LastCandles(daily, w.cfg.DailyKeep))
}

func (w *Warmuper) put(ctx context.Context, key string, cs []models.Candle) error {
	if cs == nil {
		cs = []models.Candle{}
	}
	raw, err := sonic.Marshal(cs)
	if err != nil {
		return errors.Wrap(err, "encode candles")
	}
	return w.store.Set(ctx, key, string(raw))
}

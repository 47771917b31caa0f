package service

import (
	"context"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ev_scanner/internal/helper"
	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
	"ev_scanner/pkg/tracing"
)

type EngineConfig struct {
	Benchmark       string
	LiqSpreadBpsMax float64
	LiqDepthUSDMin  float64
}

// Engine читает метрики из стора и выносит вердикт. Кэша нет: каждый
// Scan заново читает актуальное состояние.
type Engine struct {
	cfg   EngineConfig
	store store.Store
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewEngine(cfg EngineConfig, st store.Store, log *zap.Logger) *Engine {
	if cfg.Benchmark == "" {
		cfg.Benchmark = "BTC-USD"
	}
	return &Engine{
		cfg:   cfg,
		store: st,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Scan не только читает: проверка вето всегда перезаписывает
// market:volume:baseline текущим агрегатом объёма.
func (e *Engine) Scan(ctx context.Context, productIDs []string) (_ models.ScanResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "scanner.engine.scan",
		opentracing.Tag{Key: "products", Value: len(productIDs)})
	defer func() { tracing.Finish(span, err) }()

	ids := helper.Dedupe(productIDs)

	regime, benchChange, err := e.regime(ctx)
	if err != nil {
		return models.ScanResult{}, err
	}
	span.SetTag("regime", string(regime))

	veto, err := e.checkVeto(ctx, regime, benchChange, ids)
	if err != nil {
		return models.ScanResult{}, err
	}
	if veto {
		r := e.result(models.StateNoTrade, outputVeto)
		r.Reasons = []string{reasonRegimeVeto}
		e.log.Info("scan vetoed", zap.String("regime", string(regime)), zap.Float64("benchmarkChange", benchChange))
		return r, nil
	}

	metrics, err := e.loadMetrics(ctx, ids)
	if err != nil {
		return models.ScanResult{}, err
	}
	penalty, err := e.guardrail(ctx)
	if err != nil {
		return models.ScanResult{}, err
	}

	ranked := make([]candidate, 0, len(metrics))
	for _, m := range metrics {
		if c, ok := e.score(m, regime, penalty); ok {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}

	e.log.Debug("scan scored",
		zap.Int("loaded", len(metrics)),
		zap.Int("candidates", len(ranked)),
		zap.Int("penalty", penalty))

	for _, w := range windows {
		for _, c := range ranked {
			if c.state == models.StateBuy && c.windowDays <= w {
				return e.buyResult(c), nil
			}
		}
	}

	if len(ranked) > 0 && ranked[0].score >= setupThreshold {
		return e.setupResult(ranked[0]), nil
	}
	return e.result(models.StateNoTrade, outputNoTrade), nil
}

// regime: кэшированная метка бенчмарка, иначе классификация по изменению за 24ч.
func (e *Engine) regime(ctx context.Context) (models.Regime, float64, error) {
	change, err := store.GetFloatOr(ctx, e.store, store.MetricKey(e.cfg.Benchmark, store.MetricChange24hPct), 0)
	if err != nil {
		return "", 0, errors.Wrap(err, "benchmark change")
	}
	raw, ok, err := e.store.Get(ctx, store.MetricKey(e.cfg.Benchmark, store.MetricTrendState))
	if err != nil {
		return "", 0, errors.Wrap(err, "benchmark regime")
	}
	if ok {
		if r, valid := models.ParseRegime(raw); valid {
			return r, change, nil
		}
	}
	return models.ClassifyRegime(change), change, nil
}

func (e *Engine) checkVeto(ctx context.Context, regime models.Regime, benchChange float64, ids []string) (bool, error) {
	var aggregate float64
	changes := make([]float64, 0, len(ids))
	for _, id := range ids {
		vol, err := store.GetFloatOr(ctx, e.store, store.MetricKey(id, store.MetricVol24hUSD), 0)
		if err != nil {
			return false, errors.Wrapf(err, "volume %s", id)
		}
		aggregate += vol

		// инструмент без тикера идёт в медиану как 0
		ch, err := store.GetFloatOr(ctx, e.store, store.MetricKey(id, store.MetricChange24hPct), 0)
		if err != nil {
			return false, errors.Wrapf(err, "change %s", id)
		}
		changes = append(changes, ch)
	}

	baseline, err := store.GetFloatOr(ctx, e.store, store.KeyVolumeBaseline, 0)
	if err != nil {
		return false, errors.Wrap(err, "volume baseline")
	}
	if err := e.store.Set(ctx, store.KeyVolumeBaseline, aggregate); err != nil {
		return false, errors.Wrap(err, "volume baseline")
	}

	if regime == models.RegimeFalling && benchChange < -3 {
		return true, nil
	}
	median, ok := helper.Median(changes)
	return ok && baseline > 0 && aggregate < baseline*0.9 && median >= 0, nil
}

func (e *Engine) guardrail(ctx context.Context) (int, error) {
	buys, err := store.GetFloatOr(ctx, e.store, store.KeyBuysLast7d, 0)
	if err != nil {
		return 0, errors.Wrap(err, "buy counter")
	}
	streak, err := store.GetFloatOr(ctx, e.store, store.KeyNoTradeStreak, 0)
	if err != nil {
		return 0, errors.Wrap(err, "no-trade streak")
	}
	return GuardrailPenalty(int64(buys), int64(streak)), nil
}

// loadMetrics пропускает инструменты без lastPrice.
func (e *Engine) loadMetrics(ctx context.Context, ids []string) ([]models.ProductMetrics, error) {
	out := make([]models.ProductMetrics, 0, len(ids))
	for _, id := range ids {
		price, ok, err := store.GetFloat(ctx, e.store, store.MetricKey(id, store.MetricLastPrice))
		if err != nil {
			return nil, errors.Wrapf(err, "metrics %s", id)
		}
		if !ok {
			continue
		}

		m := models.ProductMetrics{ProductID: id, LastPrice: price}
		fields := []struct {
			metric string
			dst    *float64
		}{
			{store.MetricChange24hPct, &m.Change24hPct},
			{store.MetricVol24hUSD, &m.Vol24hUSD},
			{store.MetricRollVol5m, &m.RollVol5mUSD},
			{store.MetricRollVol15m, &m.RollVol15mUSD},
			{store.MetricRollVol1h, &m.RollVol1hUSD},
			{store.MetricSpreadBps, &m.SpreadBps},
			{store.MetricDepthUSDTop, &m.DepthUSDTop},
		}
		for _, f := range fields {
			if *f.dst, err = store.GetFloatOr(ctx, e.store, store.MetricKey(id, f.metric), 0); err != nil {
				return nil, errors.Wrapf(err, "metrics %s", id)
			}
		}

		if m.Candles1h, err = e.candles(ctx, id, store.Candles1h); err != nil {
			return nil, err
		}
		if m.Candles1d, err = e.candles(ctx, id, store.Candles1d); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// candles понимает и объекты Candle, и сырые строки REST. Битый JSON
// равносилен отсутствию серии.
func (e *Engine) candles(ctx context.Context, id, granularity string) ([]models.Candle, error) {
	raw, ok, err := e.store.Get(ctx, store.CandleKey(id, granularity))
	if err != nil {
		return nil, errors.Wrapf(err, "candles %s/%s", id, granularity)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var cs []models.Candle
	if err := sonic.UnmarshalString(raw, &cs); err == nil {
		models.SortCandles(cs)
		return cs, nil
	}
	var rows [][]float64
	if err := sonic.UnmarshalString(raw, &rows); err != nil {
		e.log.Warn("bad candle payload", zap.String("product", id), zap.String("granularity", granularity), zap.Error(err))
		return nil, nil
	}
	return models.NormalizeCandles(rows), nil
}

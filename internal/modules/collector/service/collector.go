package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ev_scanner/internal/helper"
	"ev_scanner/internal/models"
	feed "ev_scanner/internal/modules/coinbase_ws/service"
	health "ev_scanner/internal/modules/health/service"
	store "ev_scanner/internal/modules/store/service"
)

const (
	window5m  = 5 * time.Minute
	window15m = 15 * time.Minute
	window1h  = time.Hour
)

type Config struct {
	Benchmark string
	Feed      feed.Config
}

// Streamer: то, что нужно сборщику от фида.
type Streamer interface {
	SetProducts(ids []string)
	Connect()
	Close()
	Connected() bool
}

type rolls struct {
	m5, m15, h1 *RollingWindow
}

// Collector превращает поток фида в производные метрики в сторе.
// Состояние книг и окон принадлежит только ему: фид отдаёт сообщения
// по одному, поэтому Handle не вызывается конкурентно.
type Collector struct {
	cfg   Config
	store store.Store
	state *health.State
	log   *zap.Logger
	now   func() time.Time

	feed Streamer
	ctx  context.Context

	books map[string]*OrderBook
	rolls map[string]*rolls

	mu      sync.RWMutex
	tracked []string
}

func New(ctx context.Context, cfg Config, st store.Store, state *health.State, log *zap.Logger) *Collector {
	c := newCollector(ctx, cfg, st, state, log, time.Now)
	c.feed = feed.NewClient(cfg.Feed, log.Named("feed"), feed.Handlers{
		OnMessage: c.onMessage,
		OnOpen:    func() { state.SetWSConnected(true) },
		OnClose:   func() { state.SetWSConnected(false) },
	})
	return c
}

func newCollector(ctx context.Context, cfg Config, st store.Store, state *health.State, log *zap.Logger, now func() time.Time) *Collector {
	if cfg.Benchmark == "" {
		cfg.Benchmark = "BTC-USD"
	}
	return &Collector{
		cfg:   cfg,
		store: st,
		state: state,
		log:   log,
		now:   now,
		ctx:   ctx,
		books: make(map[string]*OrderBook),
		rolls: make(map[string]*rolls),
	}
}

// Start задаёт набор инструментов и поднимает фид.
func (c *Collector) Start(productIDs []string) {
	c.setTracked(productIDs)
	c.feed.SetProducts(productIDs)
	c.feed.Connect()
}

func (c *Collector) UpdateProducts(productIDs []string) {
	c.setTracked(productIDs)
	c.feed.SetProducts(productIDs)
}

func (c *Collector) Stop() {
	c.feed.Close()
}

func (c *Collector) Connected() bool {
	return c.feed.Connected()
}

func (c *Collector) TrackedCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tracked)
}

func (c *Collector) Tracked() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.tracked...)
}

func (c *Collector) setTracked(ids []string) {
	ids = helper.Dedupe(ids)
	c.mu.Lock()
	c.tracked = ids
	c.mu.Unlock()
	c.state.SetTracked(len(ids))
}

func (c *Collector) onMessage(msg feed.Message) {
	c.state.TouchTick(c.now())
	if err := c.Handle(c.ctx, msg); err != nil {
		c.log.Error("collector update failed",
			zap.String("type", msg.Type),
			zap.String("product", msg.ProductID),
			zap.Error(err))
	}
}

// Handle применяет одно сообщение фида. Ошибки стора возвращаются вызывающему.
func (c *Collector) Handle(ctx context.Context, msg feed.Message) error {
	if msg.ProductID == "" {
		return nil
	}
	switch msg.Type {
	case feed.TypeTicker:
		return c.handleTicker(ctx, msg)
	case feed.TypeMatch:
		return c.handleMatch(ctx, msg)
	case feed.TypeSnapshot, feed.TypeL2Update:
		return c.handleLevel2(ctx, msg)
	case feed.TypeError:
		c.log.Warn("feed error message", zap.String("message", msg.Message), zap.String("reason", msg.Reason))
	}
	return nil
}

func (c *Collector) handleTicker(ctx context.Context, msg feed.Message) error {
	id := msg.ProductID
	price := helper.ParseFloat(msg.Price)
	open24h := helper.ParseFloat(msg.Open24h)
	volume24h := helper.ParseFloat(msg.Volume24h)

	change := 0.0
	if open24h != 0 {
		change = (price - open24h) / open24h * 100
	}

	values := []struct {
		metric string
		value  interface{}
	}{
		{store.MetricLastPrice, price},
		{store.MetricChange24hPct, change},
		{store.MetricVol24hUSD, volume24h * price},
		{store.MetricLastUpdateMs, c.now().UnixMilli()},
	}
	for _, v := range values {
		if err := c.store.Set(ctx, store.MetricKey(id, v.metric), v.value); err != nil {
			return errors.Wrapf(err, "ticker %s", id)
		}
	}

	if id == c.cfg.Benchmark {
		regime := models.ClassifyRegime(change)
		if err := c.store.Set(ctx, store.MetricKey(id, store.MetricTrendState), string(regime)); err != nil {
			return errors.Wrapf(err, "trend state %s", id)
		}
	}
	return nil
}

func (c *Collector) rollsFor(id string) *rolls {
	r, ok := c.rolls[id]
	if !ok {
		r = &rolls{
			m5:  NewRollingWindow(window5m),
			m15: NewRollingWindow(window15m),
			h1:  NewRollingWindow(window1h),
		}
		c.rolls[id] = r
	}
	return r
}

func (c *Collector) handleMatch(ctx context.Context, msg feed.Message) error {
	id := msg.ProductID
	usd := helper.ParseFloat(msg.Size) * helper.ParseFloat(msg.Price)
	ts := c.now()

	r := c.rollsFor(id)
	r.m5.Add(usd, ts)
	r.m15.Add(usd, ts)
	r.h1.Add(usd, ts)

	sums := []struct {
		metric string
		w      *RollingWindow
	}{
		{store.MetricRollVol5m, r.m5},
		{store.MetricRollVol15m, r.m15},
		{store.MetricRollVol1h, r.h1},
	}
	for _, s := range sums {
		if err := c.store.Set(ctx, store.MetricKey(id, s.metric), s.w.Sum(ts)); err != nil {
			return errors.Wrapf(err, "match %s", id)
		}
	}
	return nil
}

func (c *Collector) bookFor(id string) *OrderBook {
	b, ok := c.books[id]
	if !ok {
		b = NewOrderBook()
		c.books[id] = b
	}
	return b
}

func (c *Collector) handleLevel2(ctx context.Context, msg feed.Message) error {
	id := msg.ProductID
	book := c.bookFor(id)

	if msg.Type == feed.TypeSnapshot {
		book.ApplySnapshot(parseLevels(msg.Bids), parseLevels(msg.Asks))
	} else if !book.ApplyChanges(parseChanges(msg.Changes)) {
		return nil
	}

	stats, ok := book.Stats(DepthLevels)
	if !ok {
		return nil
	}
	if err := c.store.Set(ctx, store.MetricKey(id, store.MetricSpreadBps), stats.SpreadBps); err != nil {
		return errors.Wrapf(err, "book %s", id)
	}
	if err := c.store.Set(ctx, store.MetricKey(id, store.MetricDepthUSDTop), stats.DepthUSD); err != nil {
		return errors.Wrapf(err, "book %s", id)
	}
	return nil
}

func parseLevels(rows [][]string) []Level {
	out := make([]Level, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		out = append(out, Level{Price: helper.ParseFloat(row[0]), Size: helper.ParseFloat(row[1])})
	}
	return out
}

func parseChanges(rows [][]string) []Change {
	out := make([]Change, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		out = append(out, Change{
			Side:  row[0],
			Price: helper.ParseFloat(row[1]),
			Size:  helper.ParseFloat(row[2]),
		})
	}
	return out
}

package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"ev_scanner/internal/helper"
	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
)

// Catalog: то, что селектору нужно от REST-клиента биржи.
type Catalog interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetTicker(ctx context.Context, productID string) (models.ProductTicker, error)
}

type UniverseConfig struct {
	TopN          int
	QuoteCurrency string
	Anchors       []string
	Concurrency   int
}

// Universe выбирает отслеживаемый набор: якоря плюс top-N по долларовому объёму.
type Universe struct {
	cfg   UniverseConfig
	api   Catalog
	store store.Store
	log   *zap.Logger
	now   func() time.Time

	mu   sync.RWMutex
	snap models.UniverseSnapshot
}

func NewUniverse(cfg UniverseConfig, api Catalog, st store.Store, log *zap.Logger) *Universe {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.QuoteCurrency == "" {
		cfg.QuoteCurrency = "USD"
	}
	return &Universe{
		cfg:   cfg,
		api:   api,
		store: st,
		log:   log,
		now:   time.Now,
		snap:  models.UniverseSnapshot{Volumes: map[string]float64{}},
	}
}

// Refresh строит новый снапшот и заменяет им предыдущий. Падение одного
// тикера исключает инструмент из ранжирования, но не рушит обновление.
func (u *Universe) Refresh(ctx context.Context) (models.UniverseSnapshot, error) {
	products, err := u.api.ListProducts(ctx)
	if err != nil {
		return models.UniverseSnapshot{}, err
	}

	tradable := make([]string, 0, len(products))
	for _, p := range products {
		if u.tradable(p) {
			tradable = append(tradable, p.ID)
		}
	}

	volumes := u.fetchVolumes(ctx, tradable)
	if err := ctx.Err(); err != nil {
		return models.UniverseSnapshot{}, err
	}

	ranked := make([]string, 0, len(volumes))
	for id := range volumes {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if volumes[ranked[i]] != volumes[ranked[j]] {
			return volumes[ranked[i]] > volumes[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	anchors := helper.Dedupe(u.cfg.Anchors)
	isAnchor := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		isAnchor[a] = true
	}

	ids := append([]string(nil), anchors...)
	taken := 0
	for _, id := range ranked {
		if taken >= u.cfg.TopN {
			break
		}
		if isAnchor[id] {
			continue
		}
		ids = append(ids, id)
		taken++
	}

	snap := models.UniverseSnapshot{ProductIDs: ids, Volumes: volumes, LastUpdated: u.now()}
	if err := u.store.Set(ctx, store.KeyTrackedCount, len(ids)); err != nil {
		return models.UniverseSnapshot{}, errors.Wrap(err, "store tracked count")
	}

	u.mu.Lock()
	u.snap = snap
	u.mu.Unlock()

	u.log.Info("universe refreshed",
		zap.Int("count", len(ids)),
		zap.Int("tradable", len(tradable)),
		zap.Int("ranked", len(ranked)))
	return snap, nil
}

// Snapshot возвращает копию последнего снапшота.
func (u *Universe) Snapshot() models.UniverseSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()
	vols := make(map[string]float64, len(u.snap.Volumes))
	for k, v := range u.snap.Volumes {
		vols[k] = v
	}
	return models.UniverseSnapshot{
		ProductIDs:  append([]string(nil), u.snap.ProductIDs...),
		Volumes:     vols,
		LastUpdated: u.snap.LastUpdated,
	}
}

func (u *Universe) tradable(p models.Product) bool {
	if p.TradingDisabled || p.Status != "online" {
		return false
	}
	if p.QuoteCurrency != "" {
		return p.QuoteCurrency == u.cfg.QuoteCurrency
	}
	return strings.HasSuffix(p.ID, "-"+u.cfg.QuoteCurrency)
}

func (u *Universe) fetchVolumes(ctx context.Context, ids []string) map[string]float64 {
	volumes := make(map[string]float64, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup
	// ограничитель параллелизма, чтобы не словить rate limit
	sem := make(chan struct{}, u.cfg.Concurrency)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return volumes
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			tk, err := u.api.GetTicker(ctx, id)
			if err != nil {
				u.log.Warn("ticker fetch failed", zap.String("product", id), zap.Error(err))
				return
			}
			vol := helper.ParseFloat(tk.Price) * helper.ParseFloat(tk.Volume)
			mu.Lock()
			volumes[id] = vol
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return volumes
}

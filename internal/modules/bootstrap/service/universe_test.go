package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
)

type fakeCatalog struct {
	mu       sync.Mutex
	products []models.Product
	tickers  map[string]models.ProductTicker
	listErr  error
	calls    []string
}

func (f *fakeCatalog) ListProducts(context.Context) ([]models.Product, error) {
	return f.products, f.listErr
}

func (f *fakeCatalog) GetTicker(_ context.Context, id string) (models.ProductTicker, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	tk, ok := f.tickers[id]
	if !ok {
		return models.ProductTicker{}, errors.New("boom")
	}
	return tk, nil
}

func online(id, quote string) models.Product {
	return models.Product{ID: id, QuoteCurrency: quote, Status: "online"}
}

func TestUniverse_Refresh(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	api := &fakeCatalog{
		products: []models.Product{
			online("BTC-USD", "USD"),
			online("ETH-USD", "USD"),
			online("SOL-USD", "USD"),
			online("DOGE-USD", "USD"),
			online("ADA-USD", "USD"),
			online("BROKEN-USD", "USD"),
			online("BTC-EUR", "EUR"),
			{ID: "OFF-USD", QuoteCurrency: "USD", Status: "delisted"},
			{ID: "DIS-USD", QuoteCurrency: "USD", Status: "online", TradingDisabled: true},
		},
		tickers: map[string]models.ProductTicker{
			"BTC-USD":  {Price: "100", Volume: "1000000"},
			"ETH-USD":  {Price: "10", Volume: "10"},
			"SOL-USD":  {Price: "10", Volume: "300"},
			"DOGE-USD": {Price: "1", Volume: "5000"},
			"ADA-USD":  {Price: "1", Volume: "10"},
			"BTC-EUR":  {Price: "1", Volume: "1e12"},
		},
	}
	u := NewUniverse(UniverseConfig{TopN: 2, QuoteCurrency: "USD", Anchors: []string{"BTC-USD", "ETH-USD"}, Concurrency: 2}, api, st, zap.NewNop())

	snap, err := u.Refresh(ctx)
	require.NoError(t, err)

	// якоря первыми и не дублируются, дальше top-2 по объёму
	assert.Equal(t, []string{"BTC-USD", "ETH-USD", "DOGE-USD", "SOL-USD"}, snap.ProductIDs)
	assert.NotContains(t, snap.Volumes, "BROKEN-USD")
	assert.NotContains(t, api.calls, "BTC-EUR")
	assert.NotContains(t, api.calls, "OFF-USD")
	assert.NotContains(t, api.calls, "DIS-USD")
	assert.InDelta(t, 3000, snap.Volumes["SOL-USD"], 1e-9)
	assert.False(t, snap.LastUpdated.IsZero())

	n, ok, err := store.GetFloat(ctx, st, store.KeyTrackedCount)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.0, n)

	assert.Equal(t, snap.ProductIDs, u.Snapshot().ProductIDs)
}

func TestUniverse_ReplacesSnapshot(t *testing.T) {
	ctx := context.Background()
	api := &fakeCatalog{
		products: []models.Product{online("SOL-USD", "USD")},
		tickers:  map[string]models.ProductTicker{"SOL-USD": {Price: "1", Volume: "1"}},
	}
	u := NewUniverse(UniverseConfig{TopN: 5, Anchors: []string{"BTC-USD"}}, api, store.NewMemoryStore(), zap.NewNop())

	_, err := u.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC-USD", "SOL-USD"}, u.Snapshot().ProductIDs)

	api.products = []models.Product{online("ADA-USD", "USD")}
	api.tickers = map[string]models.ProductTicker{"ADA-USD": {Price: "1", Volume: "1"}}
	_, err = u.Refresh(ctx)
	require.NoError(t, err)
	snap := u.Snapshot()
	assert.Equal(t, []string{"BTC-USD", "ADA-USD"}, snap.ProductIDs)
	assert.NotContains(t, snap.Volumes, "SOL-USD")
}

func TestUniverse_CatalogFailure(t *testing.T) {
	api := &fakeCatalog{listErr: errors.New("catalog down")}
	u := NewUniverse(UniverseConfig{TopN: 5, Anchors: []string{"BTC-USD"}}, api, store.NewMemoryStore(), zap.NewNop())

	_, err := u.Refresh(context.Background())
	require.Error(t, err)
	assert.Empty(t, u.Snapshot().ProductIDs)
}

func TestUniverse_SnapshotIsCopy(t *testing.T) {
	api := &fakeCatalog{
		products: []models.Product{online("SOL-USD", "USD")},
		tickers:  map[string]models.ProductTicker{"SOL-USD": {Price: "1", Volume: "1"}},
	}
	u := NewUniverse(UniverseConfig{TopN: 5, Anchors: []string{"BTC-USD"}}, api, store.NewMemoryStore(), zap.NewNop())
	_, err := u.Refresh(context.Background())
	require.NoError(t, err)

	s := u.Snapshot()
	s.ProductIDs[0] = "MUTATED"
	s.Volumes["SOL-USD"] = -1
	assert.Equal(t, "BTC-USD", u.Snapshot().ProductIDs[0])
	assert.Equal(t, 1.0, u.Snapshot().Volumes["SOL-USD"])
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ev_scanner/internal/exchange"
	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
)

type fakeCandles struct {
	series map[string]map[int][]models.Candle
}

func (f *fakeCandles) GetCandles(_ context.Context, id string, g int) ([]models.Candle, error) {
	byG, ok := f.series[id]
	if !ok {
		return nil, errors.New("no candles")
	}
	return byG[g], nil
}

func series(n int) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Time: int64(i), Close: float64(i + 1)}
	}
	return out
}

func readCandles(t *testing.T, st store.Store, key string) []models.Candle {
	t.Helper()
	raw, ok, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, key)
	var cs []models.Candle
	require.NoError(t, sonic.UnmarshalString(raw, &cs))
	return cs
}

func TestWarmuper_KeepsTails(t *testing.T) {
	st := store.NewMemoryStore()
	api := &fakeCandles{series: map[string]map[int][]models.Candle{
		"BTC-USD": {exchange.GranularityHour: series(300), exchange.GranularityDay: series(150)},
		"ETH-USD": {exchange.GranularityHour: series(10), exchange.GranularityDay: series(5)},
	}}
	w := NewWarmuper(WarmupConfig{HourlyKeep: 200, DailyKeep: 120, Concurrency: 2}, api, st, zap.NewNop())

	n, err := w.Warmup(context.Background(), []string{"BTC-USD", "ETH-USD", "MISSING-USD"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	h := readCandles(t, st, store.CandleKey("BTC-USD", store.Candles1h))
	require.Len(t, h, 200)
	assert.Equal(t, int64(100), h[0].Time)
	assert.Equal(t, int64(299), h[199].Time)

	d := readCandles(t, st, store.CandleKey("BTC-USD", store.Candles1d))
	require.Len(t, d, 120)
	assert.Equal(t, int64(30), d[0].Time)

	assert.Len(t, readCandles(t, st, store.CandleKey("ETH-USD", store.Candles1d)), 5)

	_, ok, _ := st.Get(context.Background(), store.CandleKey("MISSING-USD", store.Candles1d))
	assert.False(t, ok)
}

func TestWarmuper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWarmuper(WarmupConfig{}, &fakeCandles{}, store.NewMemoryStore(), zap.NewNop())
	_, err := w.Warmup(ctx, []string{"BTC-USD"})
	assert.ErrorIs(t, err, context.Canceled)
}

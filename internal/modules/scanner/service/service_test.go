package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ev_scanner/internal/models"
	store "ev_scanner/internal/modules/store/service"
	"ev_scanner/internal/notify"
)

type recordingNotifier struct {
	mu     sync.Mutex
	tokens [][]string
	sent   []notify.Notification
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, tokens []string, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, tokens)
	r.sent = append(r.sent, n)
	return r.err
}

type recordingArchive struct {
	saved []models.ScanResult
	err   error
}

func (a *recordingArchive) Save(_ context.Context, r models.ScanResult) error {
	a.saved = append(a.saved, r)
	return a.err
}

func (a *recordingArchive) Recent(_ context.Context, limit int) ([]models.ScanResult, error) {
	if a.err != nil {
		return nil, a.err
	}
	out := make([]models.ScanResult, 0, limit)
	for i := len(a.saved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.saved[i])
	}
	return out, nil
}

type fixture struct {
	st      *store.MemoryStore
	now     time.Time
	svc     *Service
	notifs  *recordingNotifier
	archive *recordingArchive
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: testNow, notifs: &recordingNotifier{}, archive: &recordingArchive{}}
	f.st = store.NewMemoryStoreWithClock(func() time.Time { return f.now })
	f.svc = NewService(ServiceConfig{NotifyMinReadiness: 70}, newTestEngine(f.st), f.st, f.archive, f.notifs, zap.NewNop())
	return f
}

func (f *fixture) counter(t *testing.T, key string) (float64, bool) {
	t.Helper()
	v, ok, err := store.GetFloat(context.Background(), f.st, key)
	require.NoError(t, err)
	return v, ok
}

func TestService_BuyPersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	put(t, f.st, buyable("SOL-USD", 6))
	require.NoError(t, f.st.SAdd(ctx, store.KeyDeviceTokens, "1234567890"))
	require.NoError(t, f.st.Set(ctx, store.KeyNoTradeStreak, 2))

	r, err := f.svc.Run(ctx, []string{"SOL-USD"})
	require.NoError(t, err)
	require.Equal(t, models.StateBuy, r.State)

	latest, ok, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, r, latest)

	hist, err := f.svc.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, r.ID, hist[0].ID)

	buys, ok := f.counter(t, store.KeyBuysLast7d)
	require.True(t, ok)
	assert.Equal(t, 1.0, buys)
	streak, _ := f.counter(t, store.KeyNoTradeStreak)
	assert.Equal(t, 0.0, streak)

	require.Len(t, f.notifs.sent, 1)
	assert.Equal(t, "EV Crypto Scan", f.notifs.sent[0].Title)
	assert.Equal(t, "Coin & Ticker: SOL-USD", f.notifs.sent[0].Body)
	assert.Equal(t, []string{"1234567890"}, f.notifs.tokens[0])

	require.Len(t, f.archive.saved, 1)
	assert.Equal(t, r.ID, f.archive.saved[0].ID)

	// счётчик BUY живёт 7 дней
	f.now = f.now.Add(7*24*time.Hour + time.Second)
	_, ok = f.counter(t, store.KeyBuysLast7d)
	assert.False(t, ok)
}

func TestService_NoTradeStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 1; i <= 3; i++ {
		r, err := f.svc.Run(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, models.StateNoTrade, r.State)
		streak, _ := f.counter(t, store.KeyNoTradeStreak)
		assert.Equal(t, float64(i), streak)
	}
	assert.Empty(t, f.notifs.sent)

	_, ok := f.counter(t, store.KeyBuysLast7d)
	assert.False(t, ok)
}

func TestService_SetupResetsStreak(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.st.Set(ctx, store.KeyNoTradeStreak, 5))
	require.NoError(t, f.st.SAdd(ctx, store.KeyDeviceTokens, "1234567890"))
	put(t, f.st, product{
		id: "AVAX-USD", price: 50, change: 2, vol: 400_000,
		spread: 20, depth: 60_000, dailyCount: 30, dailyStart: 40,
	})

	r, err := f.svc.Run(ctx, []string{"AVAX-USD"})
	require.NoError(t, err)
	require.Equal(t, models.StateSetupForming, r.State)

	streak, _ := f.counter(t, store.KeyNoTradeStreak)
	assert.Equal(t, 0.0, streak)
	// 65 - 5 за серию NO_TRADE = 60 < 70: без уведомления
	assert.Empty(t, f.notifs.sent)
}

func TestService_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < historyLimit+5; i++ {
		_, err := f.svc.Run(ctx, nil)
		require.NoError(t, err)
	}

	rows, err := f.st.LRange(ctx, store.KeyScanHistory, 0, -1)
	require.NoError(t, err)
	assert.Len(t, rows, historyLimit)

	hist, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, historyLimit)
	assert.Equal(t, fmt.Sprintf("scan-%d", historyLimit+5), hist[0].ID)
}

func TestService_DeepHistoryFromArchive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < historyLimit+5; i++ {
		_, err := f.svc.Run(ctx, nil)
		require.NoError(t, err)
	}

	hist, err := f.svc.History(ctx, historyLimit+10)
	require.NoError(t, err)
	require.Len(t, hist, historyLimit+5)
	assert.Equal(t, fmt.Sprintf("scan-%d", historyLimit+5), hist[0].ID)
	assert.Equal(t, "scan-1", hist[len(hist)-1].ID)

	f.archive.err = errors.New("pg down")
	_, err = f.svc.History(ctx, historyLimit+10)
	require.Error(t, err)

	// без архива глубина ограничена списком в сторе
	noArchive := NewService(ServiceConfig{}, newTestEngine(f.st), f.st, nil, f.notifs, zap.NewNop())
	hist, err = noArchive.History(ctx, historyLimit+10)
	require.NoError(t, err)
	assert.Len(t, hist, historyLimit)
}

func TestService_SideEffectFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.archive.err = errors.New("pg down")
	f.notifs.err = errors.New("push down")
	put(t, f.st, buyable("SOL-USD", 6))
	require.NoError(t, f.st.SAdd(ctx, store.KeyDeviceTokens, "1234567890"))

	r, err := f.svc.Run(ctx, []string{"SOL-USD"})
	require.NoError(t, err)
	assert.Equal(t, models.StateBuy, r.State)
	assert.Len(t, f.notifs.sent, 1)
}

func TestService_NoTokensNoNotify(t *testing.T) {
	f := newFixture(t)
	put(t, f.st, buyable("SOL-USD", 6))
	_, err := f.svc.Run(context.Background(), []string{"SOL-USD"})
	require.NoError(t, err)
	assert.Empty(t, f.notifs.sent)
}

func TestService_LatestEmpty(t *testing.T) {
	f := newFixture(t)
	_, ok, err := f.svc.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_StoreErrorSurfaces(t *testing.T) {
	svc := NewService(ServiceConfig{}, newTestEngine(brokenStore{Store: store.NewMemoryStore()}), store.NewMemoryStore(), nil, nil, zap.NewNop())
	_, err := svc.Run(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

// cancelOnLatest отменяет ctx вызывающего сразу после записи scan:latest,
// как если бы HTTP-клиент отвалился посреди сохранения.
type cancelOnLatest struct {
	store.Store
	cancel context.CancelFunc
}

func (c cancelOnLatest) Set(ctx context.Context, key string, value interface{}) error {
	err := c.Store.Set(ctx, key, value)
	if key == store.KeyScanLatest {
		c.cancel()
	}
	return err
}

func newRedisBacked(t *testing.T) *store.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rs := store.NewRedisStore(store.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestService_CallerCancelMidPersist(t *testing.T) {
	rs := newRedisBacked(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := cancelOnLatest{Store: rs, cancel: cancel}
	svc := NewService(ServiceConfig{}, newTestEngine(st), st, nil, nil, zap.NewNop())

	r, err := svc.Run(ctx, nil)
	require.NoError(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, models.StateNoTrade, r.State)

	bg := context.Background()
	rows, err := rs.LRange(bg, store.KeyScanHistory, 0, -1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	streak, ok, err := store.GetFloat(bg, rs, store.KeyNoTradeStreak)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, streak)
}

func TestService_CancelledCallerStillScans(t *testing.T) {
	rs := newRedisBacked(t)
	svc := NewService(ServiceConfig{}, newTestEngine(rs), rs, nil, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, nil)
	require.NoError(t, err)

	_, ok, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestService_ConcurrentRunsAreSafe(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.Run(context.Background(), nil)
			assert.NoError(t, err)
			assert.Equal(t, models.StateNoTrade, r.State)
		}()
	}
	wg.Wait()

	rows, err := f.st.LRange(context.Background(), store.KeyScanHistory, 0, -1)
	require.NoError(t, err)
	assert.NotEmpty(t, rows)
	assert.LessOrEqual(t, len(rows), 8)
}

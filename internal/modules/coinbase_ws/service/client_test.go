package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFeed struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	accepted atomic.Int32
	conns    chan *websocket.Conn
}

func newFakeFeed(t *testing.T) *fakeFeed {
	f := &fakeFeed{t: t, conns: make(chan *websocket.Conn, 8)}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.accepted.Add(1)
		f.conns <- conn
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeFeed) next() *websocket.Conn {
	select {
	case conn := <-f.conns:
		f.t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		f.t.Fatal("no connection accepted")
		return nil
	}
}

func readSub(t *testing.T, conn *websocket.Conn) subscription {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var sub subscription
	require.NoError(t, sonic.Unmarshal(data, &sub))
	return sub
}

type recorder struct {
	mu     sync.Mutex
	msgs   []Message
	opens  atomic.Int32
	closes atomic.Int32
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnMessage: func(m Message) {
			r.mu.Lock()
			r.msgs = append(r.msgs, m)
			r.mu.Unlock()
		},
		OnOpen:  func() { r.opens.Add(1) },
		OnClose: func() { r.closes.Add(1) },
	}
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestClient_SubscribesOnOpen(t *testing.T) {
	feed := newFakeFeed(t)
	rec := &recorder{}
	c := NewClient(Config{URL: feed.url()}, zap.NewNop(), rec.handlers())
	c.SetProducts([]string{"BTC-USD", "ETH-USD", "BTC-USD"})
	c.Connect()
	t.Cleanup(c.Close)

	conn := feed.next()
	sub := readSub(t, conn)
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, sub.ProductIDs)
	assert.Equal(t, []string{"ticker", "matches", "level2"}, sub.Channels)

	assert.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), rec.opens.Load())
}

func TestClient_ParseErrorKeepsConnection(t *testing.T) {
	feed := newFakeFeed(t)
	rec := &recorder{}
	c := NewClient(Config{URL: feed.url()}, zap.NewNop(), rec.handlers())
	c.Connect()
	t.Cleanup(c.Close)

	conn := feed.next()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"ticker","product_id":"BTC-USD","price":"100"}`)))

	assert.Eventually(t, func() bool { return len(rec.messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := rec.messages()[0]
	assert.Equal(t, TypeTicker, msg.Type)
	assert.Equal(t, "BTC-USD", msg.ProductID)
	assert.True(t, c.Connected())
	assert.Equal(t, int32(0), rec.closes.Load())
}

func TestClient_SetProductsResubscribes(t *testing.T) {
	feed := newFakeFeed(t)
	c := NewClient(Config{URL: feed.url()}, zap.NewNop(), Handlers{})
	c.SetProducts([]string{"BTC-USD"})
	c.Connect()
	t.Cleanup(c.Close)

	conn := feed.next()
	_ = readSub(t, conn)
	require.Eventually(t, c.Connected, time.Second, 10*time.Millisecond)

	c.SetProducts([]string{"SOL-USD", "SOL-USD", "ETH-USD"})

	unsub := readSub(t, conn)
	assert.Equal(t, "unsubscribe", unsub.Type)
	assert.Equal(t, []string{"BTC-USD"}, unsub.ProductIDs)

	sub := readSub(t, conn)
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, []string{"SOL-USD", "ETH-USD"}, sub.ProductIDs)
	assert.Equal(t, []string{"SOL-USD", "ETH-USD"}, c.Products())
}

func TestClient_ReconnectsAfterRemoteClose(t *testing.T) {
	feed := newFakeFeed(t)
	rec := &recorder{}
	c := NewClient(Config{
		URL:        feed.url(),
		MinBackoff: 20 * time.Millisecond,
		MaxBackoff: 100 * time.Millisecond,
	}, zap.NewNop(), rec.handlers())
	c.SetProducts([]string{"BTC-USD"})
	c.Connect()
	t.Cleanup(c.Close)

	first := feed.next()
	_ = readSub(t, first)
	require.NoError(t, first.Close())

	second := feed.next()
	sub := readSub(t, second)
	assert.Equal(t, "subscribe", sub.Type)
	assert.Equal(t, int32(2), feed.accepted.Load())

	assert.Eventually(t, func() bool { return rec.opens.Load() == 2 }, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, rec.closes.Load(), int32(1))
	// успешный реконнект возвращает backoff к полу
	assert.Eventually(t, func() bool { return c.currentBackoff() == 20*time.Millisecond }, time.Second, 10*time.Millisecond)
}

func TestClient_CloseCancelsReconnect(t *testing.T) {
	c := NewClient(Config{
		URL:        "ws://127.0.0.1:1",
		MinBackoff: time.Hour,
		MaxBackoff: time.Hour,
	}, zap.NewNop(), Handlers{})

	c.scheduleReconnect()
	c.scheduleReconnect()
	assert.True(t, c.reconnectPending())

	c.Close()
	assert.False(t, c.reconnectPending())

	c.scheduleReconnect()
	assert.False(t, c.reconnectPending())
}

func TestClient_DialFailureBacksOff(t *testing.T) {
	rec := &recorder{}
	c := NewClient(Config{
		URL:        "ws://127.0.0.1:1",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 40 * time.Millisecond,
	}, zap.NewNop(), rec.handlers())
	c.Connect()
	t.Cleanup(c.Close)

	assert.Eventually(t, func() bool { return c.currentBackoff() == 40*time.Millisecond }, 3*time.Second, 5*time.Millisecond)
	assert.False(t, c.Connected())
	assert.GreaterOrEqual(t, rec.closes.Load(), int32(2))
}

func TestNextBackoff(t *testing.T) {
	ceiling := 30 * time.Second
	got := time.Second
	var seq []time.Duration
	for i := 0; i < 7; i++ {
		got = nextBackoff(got, ceiling)
		seq = append(seq, got)
	}
	assert.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
		30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, seq)
}

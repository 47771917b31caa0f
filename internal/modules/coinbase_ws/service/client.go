package service

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ev_scanner/internal/helper"
)

type Config struct {
	URL        string
	MinBackoff time.Duration // 1s
	MaxBackoff time.Duration // 30s
	Channels   []string
}

// Handlers вызываются из read-loop по одному сообщению за раз.
type Handlers struct {
	OnMessage func(Message)
	OnOpen    func()
	OnClose   func()
}

// Client держит одно долгоживущее соединение с фидом и сам переподключается
// с экспоненциальным backoff. Одновременно висит не больше одного таймера.
type Client struct {
	cfg    Config
	log    *zap.Logger
	h      Handlers
	dialer *websocket.Dialer

	mu        sync.Mutex // conn/closed/reconnect/backoff/products + все записи в conn
	conn      *websocket.Conn
	closed    bool
	reconnect *time.Timer
	backoff   time.Duration
	products  []string
}

func NewClient(cfg Config, log *zap.Logger, h Handlers) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}
	return &Client{
		cfg:     cfg,
		log:     log,
		h:       h,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: cfg.MinBackoff,
	}
}

// Connect открывает стрим в фоне. Повторный вызов при живом соединении ничего не делает.
func (c *Client) Connect() {
	c.mu.Lock()
	c.closed = false
	c.stopReconnectLocked()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go c.dialAndServe()
}

// Close рвёт соединение и отменяет запланированный реконнект.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.stopReconnectLocked()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// SetProducts заменяет набор подписок. На живом соединении отписываемся
// от старого набора и подписываемся на новый.
func (c *Client) SetProducts(ids []string) {
	next := helper.Dedupe(ids)

	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.products
	c.products = next
	if c.conn == nil {
		return
	}
	if len(prev) > 0 {
		if err := c.sendLocked("unsubscribe", prev); err != nil {
			c.log.Warn("feed unsubscribe failed", zap.Error(err))
		}
	}
	if len(next) > 0 {
		if err := c.sendLocked("subscribe", next); err != nil {
			c.log.Warn("feed subscribe failed", zap.Error(err))
		}
	}
}

// Products: текущий желаемый набор.
func (c *Client) Products() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.products...)
}

func (c *Client) dialAndServe() {
	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		c.log.Error("feed dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
		c.handleClose(nil)
		return
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.backoff = c.cfg.MinBackoff
	if len(c.products) > 0 {
		if err := c.sendLocked("subscribe", c.products); err != nil {
			c.log.Warn("feed subscribe failed", zap.Error(err))
		}
	}
	count := len(c.products)
	c.mu.Unlock()

	c.log.Info("feed connected", zap.String("url", c.cfg.URL), zap.Int("products", count))
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}

	c.readLoop(conn)
	c.handleClose(conn)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("feed read error", zap.Error(err))
			return
		}

		var msg Message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.log.Warn("failed to parse feed message", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if c.h.OnMessage != nil {
			c.h.OnMessage(msg)
		}
	}
}

func (c *Client) handleClose(conn *websocket.Conn) {
	c.mu.Lock()
	if conn != nil && c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.log.Warn("feed disconnected")
	if c.h.OnClose != nil {
		c.h.OnClose()
	}
	if !closed {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnect != nil {
		return
	}
	delay := c.backoff
	c.log.Info("feed reconnect scheduled", zap.Duration("in", delay))
	c.reconnect = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnect = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.backoff = nextBackoff(c.backoff, c.cfg.MaxBackoff)
		c.mu.Unlock()

		c.dialAndServe()
	})
}

func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Client) reconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}

func (c *Client) currentBackoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

func (c *Client) sendLocked(op string, ids []string) error {
	payload, err := sonic.Marshal(subscription{
		Type:       op,
		ProductIDs: ids,
		Channels:   c.cfg.Channels,
	})
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

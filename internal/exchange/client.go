package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"ev_scanner/internal/models"
)

// гранулярности свечей в секундах
const (
	GranularityHour = 3600
	GranularityDay  = 86400
)

type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client: публичный REST-каталог биржи (продукты, тикеры, свечи).
type Client struct {
	base      string
	userAgent string
	http      *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "ev-scanner"
	}
	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

// ListProducts: полный каталог инструментов.
func (c *Client) ListProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	if err := c.get(ctx, "/products", &out); err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, productID string) (models.ProductTicker, error) {
	var out models.ProductTicker
	if err := c.get(ctx, "/products/"+url.PathEscape(productID)+"/ticker", &out); err != nil {
		return models.ProductTicker{}, errors.Wrapf(err, "ticker %s", productID)
	}
	return out, nil
}

// GetCandles отдаёт свечи по возрастанию времени. granularity в секундах.
func (c *Client) GetCandles(ctx context.Context, productID string, granularity int) ([]models.Candle, error) {
	path := "/products/" + url.PathEscape(productID) + "/candles?granularity=" + strconv.Itoa(granularity)
	var rows [][]float64
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, errors.Wrapf(err, "candles %s/%d", productID, granularity)
	}
	return models.NormalizeCandles(rows), nil
}

func (c *Client) get(ctx context.Context, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("coinbase rest error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := sonic.Unmarshal(body, dst); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV     = "CONFIG_FILE"
	defaultConfigFileName = "configs/values_local.yaml"
	redacted              = "***"
)

// Config ...
type Config struct {
	Service struct {
		Host            string `mapstructure:"host"`
		Port            int    `mapstructure:"port"`
		APIKey          string `mapstructure:"api_key"`
		RateLimitPerMin int    `mapstructure:"rate_limit_per_min"` // 0: без лимита
	} `mapstructure:"service"`

	Redis struct {
		Addr     string `mapstructure:"addr"` // пусто: in-memory стор
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Postgres struct {
		DSN string `mapstructure:"dsn"` // пусто: архив вердиктов выключен
	} `mapstructure:"postgres"`

	Coinbase struct {
		WSURL       string        `mapstructure:"ws_url"`
		RESTBase    string        `mapstructure:"rest_base"`
		UserAgent   string        `mapstructure:"user_agent"`
		HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	} `mapstructure:"coinbase"`

	Feed struct {
		MinBackoff time.Duration `mapstructure:"min_backoff"`
		MaxBackoff time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"feed"`

	Universe struct {
		TopN                  int           `mapstructure:"top_n"`
		QuoteCurrency         string        `mapstructure:"quote_currency"`
		Anchors               []string      `mapstructure:"anchors"`
		RefreshInterval       time.Duration `mapstructure:"refresh_interval"`
		CandleRefreshInterval time.Duration `mapstructure:"candle_refresh_interval"`
		Concurrency           int           `mapstructure:"concurrency"`
		HourlyKeep            int           `mapstructure:"hourly_keep"`
		DailyKeep             int           `mapstructure:"daily_keep"`
	} `mapstructure:"universe"`

	Scanner struct {
		Benchmark          string   `mapstructure:"benchmark"`
		LiqSpreadBpsMax    float64  `mapstructure:"liq_spread_bps_max"`
		LiqDepthUSDMin     float64  `mapstructure:"liq_depth_usd_min"`
		Schedules          []string `mapstructure:"schedules"`
		Timezone           string   `mapstructure:"timezone"`
		NotifyMinReadiness int      `mapstructure:"notify_min_readiness"`
	} `mapstructure:"scanner"`

	Telegram struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"telegram"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled"`
		Host       string  `mapstructure:"host"`
		Port       int     `mapstructure:"port"`
		SampleRate float64 `mapstructure:"sample_rate"`
	} `mapstructure:"tracing"`

	Log struct {
		Level   string `mapstructure:"level"`
		Service string `mapstructure:"service"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.api_key", "")
	v.SetDefault("service.rate_limit_per_min", 60)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("coinbase.ws_url", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("coinbase.rest_base", "https://api.exchange.coinbase.com")
	v.SetDefault("coinbase.user_agent", "kaos-ev-scanner")
	v.SetDefault("coinbase.http_timeout", "10s")

	v.SetDefault("feed.min_backoff", "1s")
	v.SetDefault("feed.max_backoff", "30s")

	v.SetDefault("universe.top_n", 80)
	v.SetDefault("universe.quote_currency", "USD")
	v.SetDefault("universe.anchors", []string{"BTC-USD", "ETH-USD"})
	v.SetDefault("universe.refresh_interval", "30m")
	v.SetDefault("universe.candle_refresh_interval", "6h")
	v.SetDefault("universe.concurrency", 8)
	v.SetDefault("universe.hourly_keep", 200)
	v.SetDefault("universe.daily_keep", 120)

	v.SetDefault("scanner.benchmark", "BTC-USD")
	v.SetDefault("scanner.liq_spread_bps_max", 50.0)
	v.SetDefault("scanner.liq_depth_usd_min", 50000.0)
	v.SetDefault("scanner.schedules", []string{"0 9 * * *", "0 12 * * *", "0 16 * * *", "0 20 * * *"})
	v.SetDefault("scanner.timezone", "America/Denver")
	v.SetDefault("scanner.notify_min_readiness", 70)

	v.SetDefault("telegram.token", "")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.host", "localhost")
	v.SetDefault("tracing.port", 6831)
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.service", "ev-scanner")
}

// NewConfig: дефолты -> yaml-файл (если есть) -> переменные окружения (scanner.benchmark -> SCANNER_BENCHMARK).
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = defaultConfigFileName
	}
	return Load(configFileName)
}

// Load читает конфиг из path; отсутствующий файл не ошибка.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrap(err, "read config file")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.Universe.Anchors = splitList(cfg.Universe.Anchors)
	cfg.Scanner.Schedules = splitSchedules(cfg.Scanner.Schedules)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Scanner.LiqSpreadBpsMax <= 0 {
		return fmt.Errorf("scanner.liq_spread_bps_max must be > 0")
	}
	if c.Service.RateLimitPerMin < 0 {
		return fmt.Errorf("service.rate_limit_per_min must be >= 0")
	}
	if c.Universe.TopN <= 0 {
		return fmt.Errorf("universe.top_n must be > 0")
	}
	if c.Feed.MinBackoff <= 0 || c.Feed.MinBackoff > c.Feed.MaxBackoff {
		return fmt.Errorf("feed.min_backoff must be > 0 and <= feed.max_backoff")
	}
	if len(c.Universe.Anchors) == 0 {
		return fmt.Errorf("universe.anchors must not be empty")
	}
	if c.Scanner.Benchmark == "" {
		return fmt.Errorf("scanner.benchmark is required")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	if _, err := time.LoadLocation(c.Scanner.Timezone); err != nil {
		return fmt.Errorf("scanner.timezone: %w", err)
	}
	return nil
}

// Redacted: эффективный конфиг в yaml без секретов, для стартового лога.
func (c *Config) Redacted() (string, error) {
	cp := *c
	if cp.Service.APIKey != "" {
		cp.Service.APIKey = redacted
	}
	if cp.Redis.Password != "" {
		cp.Redis.Password = redacted
	}
	if cp.Postgres.DSN != "" {
		cp.Postgres.DSN = redacted
	}
	if cp.Telegram.Token != "" {
		cp.Telegram.Token = redacted
	}
	bs, err := yaml.Marshal(cp)
	if err != nil {
		return "", errors.Wrap(err, "marshal config to yaml")
	}
	return string(bs), nil
}

// из env список приходит одной строкой "BTC-USD,ETH-USD"
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// cron-выражения содержат пробелы, поэтому из env разделяем только по ';'
func splitSchedules(in []string) []string {
	if len(in) == 1 && strings.Contains(in[0], ";") {
		in = strings.Split(in[0], ";")
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

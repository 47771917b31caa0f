package service

import "fmt"

// метрики инструмента
const (
	MetricLastPrice    = "lastPrice"
	MetricChange24hPct = "change24hPct"
	MetricVol24hUSD    = "vol24hUsd"
	MetricLastUpdateMs = "lastUpdateMs"
	MetricRollVol5m    = "rollVol5mUsd"
	MetricRollVol15m   = "rollVol15mUsd"
	MetricRollVol1h    = "rollVol1hUsd"
	MetricSpreadBps    = "spreadBps"
	MetricDepthUSDTop  = "depthUsdTop"
	MetricTrendState   = "trendState"
)

// глобальные ключи
const (
	KeyVolumeBaseline = "market:volume:baseline"
	KeyTrackedCount   = "market:tracked:count"
	KeyScanLatest     = "scan:latest"
	KeyScanHistory    = "scan:history"
	KeyBuysLast7d     = "scan:buys:last7d"
	KeyNoTradeStreak  = "scan:noTradeStreak"
	KeyDeviceTokens   = "devices:tokens"
)

const (
	Candles1h = "1h"
	Candles1d = "1d"
)

// MetricKey -> m:BTC-USD:lastPrice
func MetricKey(productID, metric string) string {
	return fmt.Sprintf("m:%s:%s", productID, metric)
}

// CandleKey -> c:BTC-USD:1d
func CandleKey(productID, granularity string) string {
	return fmt.Sprintf("c:%s:%s", productID, granularity)
}

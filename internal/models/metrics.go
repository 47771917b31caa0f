package models

// ProductMetrics: срез метрик инструмента, который сканер читает из стора.
type ProductMetrics struct {
	ProductID     string
	LastPrice     float64
	Change24hPct  float64
	Vol24hUSD     float64
	RollVol5mUSD  float64
	RollVol15mUSD float64
	RollVol1hUSD  float64
	SpreadBps     float64
	DepthUSDTop   float64
	Candles1h     []Candle
	Candles1d     []Candle
}

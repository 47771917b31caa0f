package service

import (
	"ev_scanner/internal/helper"
	"ev_scanner/internal/models"
)

const (
	minDailyCandles = 20
	buyThreshold    = 80
	setupThreshold  = 50
	lateEntryPct    = 12.0
	nearSupportPct  = 5.0
	nearBreakoutPct = 3.0
)

// окна в днях, от узкого к широкому
var windows = []int{7, 14, 21, 28, 30}

type Levels struct {
	Support    float64
	Resistance float64
	Midpoint   float64
}

// FindLevels: min/max закрытия по серии.
func FindLevels(cs []models.Candle) Levels {
	if len(cs) == 0 {
		return Levels{}
	}
	lo, hi := cs[0].Close, cs[0].Close
	for _, c := range cs[1:] {
		if c.Close < lo {
			lo = c.Close
		}
		if c.Close > hi {
			hi = c.Close
		}
	}
	return Levels{Support: lo, Resistance: hi, Midpoint: (lo + hi) / 2}
}

type candidate struct {
	metrics models.ProductMetrics
	levels  Levels

	score      int
	state      models.ScanState
	windowDays int

	nearSupport   bool
	nearBreakout  bool
	lateEntry     bool
	volumeAccel   bool
	volumeConfirm bool
}

// GuardrailPenalty: частые BUY режем сильнее, длинную серию NO_TRADE слабее.
func GuardrailPenalty(buysLast7d, noTradeStreak int64) int {
	if buysLast7d >= 2 {
		return 10
	}
	if noTradeStreak >= 3 {
		return 5
	}
	return 0
}

func regimeScore(r models.Regime) int {
	switch r {
	case models.RegimeTrending:
		return 20
	case models.RegimeBasing:
		return 10
	}
	return 0
}

func windowFor(change24hPct float64) int {
	if change24hPct > 10 {
		return 7
	}
	if change24hPct > 5 {
		return 14
	}
	return 21
}

// score возвращает false, если инструмент выпадает из ранжирования:
// мало истории, не прошёл ликвидность или итоговый NO_TRADE.
func (e *Engine) score(m models.ProductMetrics, regime models.Regime, penalty int) (candidate, bool) {
	if len(m.Candles1d) < minDailyCandles {
		return candidate{}, false
	}

	liquid := m.SpreadBps > 0 &&
		m.SpreadBps <= e.cfg.LiqSpreadBpsMax &&
		m.DepthUSDTop >= e.cfg.LiqDepthUSDMin
	if !liquid {
		return candidate{}, false
	}

	c := candidate{metrics: m, levels: FindLevels(m.Candles1d)}
	c.nearSupport = helper.IsNear(m.LastPrice, c.levels.Support, nearSupportPct)
	c.nearBreakout = helper.IsNear(m.LastPrice, c.levels.Resistance, nearBreakoutPct)

	tail := models.LastCandles(m.Candles1d, 7)
	vols := make([]float64, 0, len(tail))
	for _, cd := range tail {
		vols = append(vols, cd.Volume)
	}
	expected := helper.Mean(vols) * m.LastPrice
	c.volumeConfirm = m.Vol24hUSD > expected
	volumeRising := m.Vol24hUSD > expected*0.7
	c.volumeAccel = m.RollVol5mUSD > m.RollVol15mUSD*0.4 &&
		m.RollVol15mUSD > m.RollVol1hUSD*0.2

	entry := c.nearSupport || c.nearBreakout
	c.lateEntry = c.nearBreakout && m.Change24hPct > lateEntryPct

	total := regimeScore(regime) + 15
	if entry {
		total += 20
	}
	if volumeRising {
		total += 15
	}
	if c.volumeConfirm {
		total += 25
	}
	if entry && !c.lateEntry {
		total += 15
	}
	c.score = helper.Clamp(total-penalty, 0, 100)
	c.windowDays = windowFor(m.Change24hPct)

	switch {
	case c.score >= buyThreshold && !c.lateEntry && c.volumeAccel && c.volumeConfirm:
		c.state = models.StateBuy
	case c.score >= setupThreshold:
		c.state = models.StateSetupForming
	default:
		return candidate{}, false
	}
	return c, true
}

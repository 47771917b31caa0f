package service

import (
	"fmt"
	"strings"

	"ev_scanner/internal/models"
)

const (
	reasonRegimeVeto = "market regime veto"

	outputVeto    = "NO TRADE — EV is negative (market regime veto)"
	outputNoTrade = "NO TRADE — EV is negative across all windows."
	outputSetup   = "SETUP FORMING — WAIT"
)

func px(v float64) string { return fmt.Sprintf("%.4f", v) }

func renderBuy(c candidate) string {
	m := c.metrics
	var zone string
	if c.nearSupport {
		zone = px(c.levels.Support) + " - " + px(c.levels.Support*1.03)
	} else {
		zone = px(m.LastPrice) + " - " + px(m.LastPrice*1.02)
	}

	best, realistic := "35%", "25%"
	if c.windowDays <= 7 {
		best, realistic = "20%", "12%"
	}

	lines := []string{
		"Coin & Ticker: " + m.ProductID,
		"Current Price: " + px(m.LastPrice),
		"Why This Trade Has Positive EV: Liquidity is strong, structure is clean, and volume confirms momentum.",
		"Exact Buy Zone: " + zone,
		fmt.Sprintf("Exact Sell Targets: TP1 %s (sell 25-50%%), TP2 %s (trail/ratchet remainder)", px(m.LastPrice*1.1), px(m.LastPrice*1.2)),
		"Exact Stop / Exit Level if Wrong: " + px(c.levels.Support*0.97),
		fmt.Sprintf("Best-Case ROI %% and Realistic ROI %%: %s / %s", best, realistic),
		fmt.Sprintf("Time Window (days): %d", c.windowDays),
		"Final Action: BUY",
		"After you close this trade, record entry/exit and whether you followed the rules.",
	}
	return strings.Join(lines, "\n")
}

// missingReasons в фиксированном порядке, не больше трёх.
func missingReasons(c candidate) []string {
	var out []string
	if !c.volumeConfirm {
		out = append(out, "Volume confirmation above 7-day average")
	}
	if !c.nearSupport && !c.nearBreakout {
		out = append(out, "Clear pullback or breakout level")
	}
	if c.lateEntry {
		out = append(out, "Avoid late entry; wait for reset")
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func renderSetup(c candidate) string {
	missing := strings.Join(missingReasons(c), "; ")
	if missing == "" {
		missing = "Nothing material"
	}
	confirm := c.levels.Support * 1.02
	if c.nearBreakout {
		confirm = c.levels.Resistance
	}
	return strings.Join([]string{
		outputSetup,
		fmt.Sprintf("EV Readiness Score: %d", c.score),
		"What's missing: " + missing,
		"Confirm or invalidate level: " + px(confirm),
	}, "\n")
}

func (e *Engine) result(state models.ScanState, output string) models.ScanResult {
	return models.ScanResult{
		ID:        e.newID(),
		State:     state,
		Output:    output,
		Timestamp: e.now().UnixMilli(),
	}
}

func (e *Engine) buyResult(c candidate) models.ScanResult {
	r := e.result(models.StateBuy, renderBuy(c))
	r.ProductID = c.metrics.ProductID
	score := c.score
	r.ReadinessScore = &score
	return r
}

func (e *Engine) setupResult(c candidate) models.ScanResult {
	r := e.result(models.StateSetupForming, renderSetup(c))
	r.ProductID = c.metrics.ProductID
	score := c.score
	r.ReadinessScore = &score
	return r
}

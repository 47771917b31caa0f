package models

import "strings"

type ScanState string

const (
	StateBuy          ScanState = "BUY"
	StateSetupForming ScanState = "SETUP_FORMING"
	StateNoTrade      ScanState = "NO_TRADE"
)

type Regime string

const (
	RegimeFalling  Regime = "FALLING"
	RegimeBasing   Regime = "BASING"
	RegimeTrending Regime = "TRENDING"
)

// ParseRegime возвращает false для всего, что не является известной меткой.
func ParseRegime(s string) (Regime, bool) {
	switch Regime(s) {
	case RegimeFalling, RegimeBasing, RegimeTrending:
		return Regime(s), true
	}
	return "", false
}

// ClassifyRegime: общий порог для коллектора и сканера.
func ClassifyRegime(change24hPct float64) Regime {
	if change24hPct < -3 {
		return RegimeFalling
	}
	if change24hPct > 1 {
		return RegimeTrending
	}
	return RegimeBasing
}

// ScanResult: вердикт одного скана. После создания не меняется.
type ScanResult struct {
	ID             string    `json:"id"`
	State          ScanState `json:"state"`
	Output         string    `json:"output"`
	ProductID      string    `json:"productId,omitempty"`
	ReadinessScore *int      `json:"readinessScore,omitempty"`
	Reasons        []string  `json:"reasons,omitempty"`
	Timestamp      int64     `json:"timestamp"` // unix ms
}

// Headline: первая строка вывода, уходит в пуш.
func (r ScanResult) Headline() string {
	line, _, _ := strings.Cut(r.Output, "\n")
	return line
}

// Readiness возвращает 0, если скор не задан.
func (r ScanResult) Readiness() int {
	if r.ReadinessScore == nil {
		return 0
	}
	return *r.ReadinessScore
}

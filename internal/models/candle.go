package models

import "sort"

// Candle: свеча после нормализации сырых строк REST.
type Candle struct {
	Time   int64   `json:"time"`
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Open   float64 `json:"open"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// NormalizeCandles мапит строки [time, low, high, open, close, volume] в Candle
// и сортирует по времени. Дубли не убираем, это забота источника.
func NormalizeCandles(rows [][]float64) []Candle {
	out := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, Candle{
			Time:   int64(row[0]),
			Low:    row[1],
			High:   row[2],
			Open:   row[3],
			Close:  row[4],
			Volume: row[5],
		})
	}
	SortCandles(out)
	return out
}

// SortCandles сортирует серию по возрастанию времени.
func SortCandles(cs []Candle) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Time < cs[j].Time })
}

// LastCandles отдаёт хвост серии длиной не больше n.
func LastCandles(cs []Candle, n int) []Candle {
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}

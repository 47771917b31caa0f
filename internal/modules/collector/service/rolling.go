package service

import "time"

type rollEntry struct {
	ts    time.Time
	value float64
}

// RollingWindow: сумма значений за последние horizon. Записи приходят в
// порядке получения, поэтому всегда отсортированы по времени и выселяются
// только с головы. Сумма поддерживается инкрементально.
type RollingWindow struct {
	horizon time.Duration
	entries []rollEntry
	head    int
	sum     float64
}

func NewRollingWindow(horizon time.Duration) *RollingWindow {
	return &RollingWindow{horizon: horizon}
}

func (w *RollingWindow) Add(value float64, ts time.Time) {
	w.entries = append(w.entries, rollEntry{ts: ts, value: value})
	w.sum += value
	w.trim(ts)
}

func (w *RollingWindow) Sum(ts time.Time) float64 {
	w.trim(ts)
	return w.sum
}

// Len: число удерживаемых записей.
func (w *RollingWindow) Len() int {
	return len(w.entries) - w.head
}

func (w *RollingWindow) trim(now time.Time) {
	cutoff := now.Add(-w.horizon)
	for w.head < len(w.entries) && w.entries[w.head].ts.Before(cutoff) {
		w.sum -= w.entries[w.head].value
		w.entries[w.head] = rollEntry{}
		w.head++
	}
	if w.head == len(w.entries) {
		// окно опустело: сбрасываем накопленную погрешность float
		w.entries = w.entries[:0]
		w.head = 0
		w.sum = 0
		return
	}
	// компактим, когда мёртвая голова больше живого хвоста
	if w.head > 64 && w.head*2 > len(w.entries) {
		n := copy(w.entries, w.entries[w.head:])
		w.entries = w.entries[:n]
		w.head = 0
	}
}

package service

import (
	"sync/atomic"
	"time"
)

// State хранит живые флаги процесса, общие для сборщика, бутстрапа и HTTP.
type State struct {
	now       func() time.Time
	startedAt time.Time

	ready        atomic.Bool
	wsConnected  atomic.Bool
	lastTickUnix atomic.Int64 // unix seconds
	tracked      atomic.Int64
}

// Snapshot: то, что отдаёт GET /health.
type Snapshot struct {
	Status               string  `json:"status"`
	Uptime               float64 `json:"uptime"` // секунды
	WSConnected          bool    `json:"wsConnected"`
	TrackedProductsCount int     `json:"trackedProductsCount"`
	LastTickUnix         int64   `json:"lastTickUnix"`
}

func NewState() *State {
	return NewStateWithClock(time.Now)
}

func NewStateWithClock(now func() time.Time) *State {
	return &State{now: now, startedAt: now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

func (s *State) SetTracked(n int) { s.tracked.Store(int64(n)) }
func (s *State) Tracked() int     { return int(s.tracked.Load()) }

func (s *State) TouchTick(t time.Time) { s.lastTickUnix.Store(t.Unix()) }

// LastTickUnix равен 0, если тиков ещё не было.
func (s *State) LastTickUnix() int64 { return s.lastTickUnix.Load() }

func (s *State) Uptime() time.Duration { return s.now().Sub(s.startedAt) }

// Snapshot читает флаги по одному, согласованности между полями нет.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Status:               "ok",
		Uptime:               s.Uptime().Seconds(),
		WSConnected:          s.WSConnected(),
		TrackedProductsCount: s.Tracked(),
		LastTickUnix:         s.LastTickUnix(),
	}
}

package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	health "ev_scanner/internal/modules/health/service"
)

// Tracker: сборщик, которому раздаём набор инструментов.
type Tracker interface {
	Start(productIDs []string)
	UpdateProducts(productIDs []string)
	Tracked() []string
}

// Runner: последовательность бутстрапа и периодические обновления.
type Runner struct {
	universe *Universe
	warmup   *Warmuper
	tracker  Tracker
	state    *health.State
	log      *zap.Logger

	mu      sync.Mutex
	started bool
}

func NewRunner(u *Universe, w *Warmuper, t Tracker, state *health.State, log *zap.Logger) *Runner {
	return &Runner{universe: u, warmup: w, tracker: t, state: state, log: log}
}

// Bootstrap: юниверс -> фид -> свечи.
func (r *Runner) Bootstrap(ctx context.Context) error {
	if err := r.RefreshUniverse(ctx); err != nil {
		return err
	}
	_, err := r.RefreshCandles(ctx)
	return err
}

// RefreshUniverse пересобирает набор и отдаёт его сборщику. Первый успешный
// вызов поднимает фид, следующие только меняют подписку.
func (r *Runner) RefreshUniverse(ctx context.Context) error {
	snap, err := r.universe.Refresh(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	first := !r.started
	r.started = true
	r.mu.Unlock()

	if first {
		r.tracker.Start(snap.ProductIDs)
		r.log.Info("collector started", zap.Int("products", len(snap.ProductIDs)))
	} else {
		r.tracker.UpdateProducts(snap.ProductIDs)
	}
	r.state.SetReady(true)
	return nil
}

func (r *Runner) RefreshCandles(ctx context.Context) (int, error) {
	return r.warmup.Warmup(ctx, r.tracker.Tracked())
}

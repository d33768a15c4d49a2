package retention

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInterval is the period of the background sweep
const DefaultInterval = time.Hour

// Sweepable is anything that can run a sweep
type Sweepable interface {
	Sweep(ctx context.Context, window time.Duration) (int, error)
}

// Runner sweeps on a fixed interval until stopped
type Runner struct {
	sweeper  Sweepable
	window   time.Duration
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner. A zero interval means DefaultInterval.
func NewRunner(sweeper Sweepable, window, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		sweeper:  sweeper,
		window:   window,
		interval: interval,
	}
}

// Start launches the loop. The first sweep happens one interval after
// Start. Calling Start on a running runner does nothing.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Debug("Retention runner stopped")
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
	slog.Info("Retention runner started", "interval", r.interval, "window", r.window)
}

func (r *Runner) sweep(ctx context.Context) {
	deleted, err := r.sweeper.Sweep(ctx, r.window)
	if err != nil {
		slog.Error("Automatic cleanup failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Automatic cleanup removed old files", "deleted", deleted)
	}
}

// Stop cancels the loop and waits for it to exit, including a sweep in
// progress. Stop on a runner that never started returns immediately.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Package chrono drives the session clocks: one ticker goroutine per live
// session, calling Tick every interval (0.1 s in production).
package chrono

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blindtest-party/backend/internal/game"
)

// DefaultInterval is the tick resolution of the session clock.
const DefaultInterval = 100 * time.Millisecond

// Ticker is the session side of a runner.
type Ticker interface {
	Tick() game.TickResult
}

// TickFunc receives every tick result of a session.
type TickFunc func(sessionCode string, res game.TickResult)

// Runner ticks a single session until stopped.
type Runner struct {
	code     string
	target   Ticker
	onTick   TickFunc
	interval time.Duration
	logger   *zap.Logger
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRunner creates a runner for one session.
func NewRunner(code string, target Ticker, interval time.Duration, onTick TickFunc, logger *zap.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		code:     code,
		target:   target,
		onTick:   onTick,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the tick loop. Call Stop() to release resources.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	r.logger.Debug("session clock started", zap.String("session_code", r.code), zap.Duration("interval", r.interval))
}

// Stop halts the loop and waits for the goroutine to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	<-r.done
	r.logger.Debug("session clock stopped", zap.String("session_code", r.code))
}

func (r *Runner) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := r.target.Tick()
			if r.onTick != nil {
				r.onTick(r.code, res)
			}
		}
	}
}

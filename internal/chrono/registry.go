package chrono

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry holds the running clock of every live session (thread-safe).
type Registry struct {
	mu       sync.RWMutex
	runners  map[string]*Runner
	interval time.Duration
	onTick   TickFunc
	logger   *zap.Logger
}

// NewRegistry creates a registry whose runners tick every interval and report to onTick.
func NewRegistry(interval time.Duration, onTick TickFunc, logger *zap.Logger) *Registry {
	return &Registry{
		runners:  make(map[string]*Runner),
		interval: interval,
		onTick:   onTick,
		logger:   logger,
	}
}

// Start starts the runner of code if not already running.
func (reg *Registry) Start(code string, target Ticker) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.runners[code] != nil {
		return
	}
	r := NewRunner(code, target, reg.interval, reg.onTick, reg.logger)
	reg.runners[code] = r
	r.Start()
}

// Stop stops the runner of code and removes it from the registry.
func (reg *Registry) Stop(code string) {
	reg.mu.Lock()
	r := reg.runners[code]
	delete(reg.runners, code)
	reg.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}

// StopAll stops every runner, e.g. on shutdown.
func (reg *Registry) StopAll() {
	reg.mu.Lock()
	runners := reg.runners
	reg.runners = make(map[string]*Runner)
	reg.mu.Unlock()
	for _, r := range runners {
		r.Stop()
	}
}

// Running reports whether code has a live clock.
func (reg *Registry) Running(code string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.runners[code] != nil
}

// Len returns the number of running clocks.
func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.runners)
}

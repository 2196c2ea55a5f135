package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper is the background sweep that evicts players who stop sending
// updates. It exists because transport-level disconnect events are not
// always delivered — device sleep and abrupt network loss leave roster
// entries behind.
type Reaper struct {
	registry *Registry
	gateway  *Gateway
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration

	now func() time.Time

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// NewReaper creates a Reaper sweeping every interval, evicting players idle
// longer than timeout.
//
// Precondition: registry, gateway, and logger must be non-nil; interval and
// timeout must be positive.
func NewReaper(registry *Registry, gateway *Gateway, logger *zap.Logger, interval, timeout time.Duration) *Reaper {
	return &Reaper{
		registry: registry,
		gateway:  gateway,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		now:      time.Now,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the sweep loop. It blocks until Stop is called, implementing
// the lifecycle Service contract.
func (r *Reaper) Start() error {
	defer close(r.stopped)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.done:
			return nil
		}
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Reaper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	<-r.stopped
}

// Sweep performs one eviction pass.
//
// Postcondition: Every player idle longer than the timeout is removed and
// announced to their former room exactly once.
func (r *Reaper) Sweep() {
	cutoff := r.now().Add(-r.timeout)
	evicted := r.registry.SweepIdle(cutoff)
	if len(evicted) == 0 {
		return
	}
	r.logger.Info("inactivity sweep", zap.Int("evicted", len(evicted)))
	r.gateway.EvictIdle(evicted)
}

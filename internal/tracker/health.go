package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quill/internal/backend"
	"quill/internal/logging"
)

// HealthOptions configures a Monitor.
type HealthOptions struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	// OnChange, when set, is invoked outside the monitor lock whenever the
	// healthy flag flips.
	OnChange func(healthy bool)
}

// Monitor answers "is the backend currently reachable?" cheaply and keeps
// probe traffic minimal: reactive-only while healthy, exponential backoff
// with a ceiling while unhealthy. Probe failures are diagnostic output,
// never fatal, and never gate the reconciler.
type Monitor struct {
	prober       backend.Prober
	logger       *slog.Logger
	baseDelay    time.Duration
	maxDelay     time.Duration
	probeTimeout time.Duration
	onChange     func(bool)

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	checking            bool
	timer               *time.Timer
	runCtx              context.Context
	closed              bool
}

// NewMonitor builds a health monitor. Delay and timeout values must be
// positive; construction fails fast otherwise.
func NewMonitor(prober backend.Prober, opts HealthOptions) (*Monitor, error) {
	if prober == nil {
		return nil, errors.New("health monitor requires prober")
	}
	if opts.BaseDelay <= 0 || opts.MaxDelay <= 0 || opts.ProbeTimeout <= 0 {
		return nil, errors.New("health monitor delays and timeout must be positive")
	}
	if opts.MaxDelay < opts.BaseDelay {
		return nil, errors.New("health monitor max delay must be at least base delay")
	}
	return &Monitor{
		prober:       prober,
		logger:       logging.WithComponent(opts.Logger, "health"),
		baseDelay:    opts.BaseDelay,
		maxDelay:     opts.MaxDelay,
		probeTimeout: opts.ProbeTimeout,
		onChange:     opts.OnChange,
		healthy:      true,
		runCtx:       context.Background(),
	}, nil
}

// Start records the run context for scheduled probes and performs the
// initial reachability check in the background.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	go m.Probe(ctx)
}

// Close cancels any scheduled probe. A probe already in flight is left to
// complete; its result is discarded at the write site.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.stopTimerLocked()
}

// Probe issues one health check. At most one probe is in flight at a time;
// a probe requested while one is outstanding is a no-op.
func (m *Monitor) Probe(ctx context.Context) {
	m.mu.Lock()
	if m.checking || m.closed {
		m.mu.Unlock()
		return
	}
	m.checking = true
	m.stopTimerLocked()
	m.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := m.prober.Health(probeCtx)
	cancel()

	m.mu.Lock()
	m.checking = false
	if m.closed {
		m.mu.Unlock()
		m.logger.Debug("discarding probe result after close")
		return
	}

	var flipped bool
	var nowHealthy bool
	if err != nil {
		flipped = m.healthy
		m.healthy = false
		m.consecutiveFailures++
		delay := m.nextDelayLocked()
		m.scheduleLocked(delay)
		nowHealthy = false
		m.logger.Warn("health probe failed",
			logging.Error(err),
			logging.Int("consecutive_failures", m.consecutiveFailures),
			logging.Duration("next_check_in", delay))
	} else {
		flipped = !m.healthy
		m.healthy = true
		m.consecutiveFailures = 0
		nowHealthy = true
		if flipped {
			m.logger.Info("backend reachable again")
		}
	}
	onChange := m.onChange
	m.mu.Unlock()

	if flipped && onChange != nil {
		onChange(nowHealthy)
	}
}

// RetryNow cancels any scheduled future probe and probes immediately; used
// for user-initiated retry actions.
func (m *Monitor) RetryNow() {
	m.mu.Lock()
	m.stopTimerLocked()
	ctx := m.runCtx
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	go m.Probe(ctx)
}

// HandleConnectionChange reacts to connectivity signals from the push
// channel. A restored connection is presumptive evidence of health and
// short-circuits the probe cycle; a lost connection triggers an immediate
// out-of-band probe.
func (m *Monitor) HandleConnectionChange(healthy bool) {
	if healthy {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		flipped := !m.healthy
		m.healthy = true
		m.consecutiveFailures = 0
		m.stopTimerLocked()
		onChange := m.onChange
		m.mu.Unlock()

		m.logger.Info("push channel reports backend healthy")
		if flipped && onChange != nil {
			onChange(true)
		}
		return
	}

	m.mu.Lock()
	ctx := m.runCtx
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.logger.Warn("push channel lost connectivity, probing backend")
	go m.Probe(ctx)
}

// Healthy reports current reachability.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// Snapshot returns the current health bookkeeping.
func (m *Monitor) Snapshot() HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthState{
		Healthy:             m.healthy,
		ConsecutiveFailures: m.consecutiveFailures,
		NextCheckDelay:      m.nextDelayLocked(),
		Checking:            m.checking,
	}
}

// nextDelayLocked computes min(baseDelay * 2^(failures-1), maxDelay); zero
// while there are no failures (no probe scheduled).
func (m *Monitor) nextDelayLocked() time.Duration {
	if m.consecutiveFailures <= 0 {
		return 0
	}
	delay := m.baseDelay
	for i := 1; i < m.consecutiveFailures; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	if delay > m.maxDelay {
		return m.maxDelay
	}
	return delay
}

func (m *Monitor) scheduleLocked(delay time.Duration) {
	m.stopTimerLocked()
	ctx := m.runCtx
	m.timer = time.AfterFunc(delay, func() {
		m.Probe(ctx)
	})
}

func (m *Monitor) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Package liveness tracks whether the knowledge-base backend is reachable. Free-tier hosting spins
// the backend down when idle, so a failing probe usually means a cold start rather than an outage;
// the monitor distinguishes the two by how long the backend has been unresponsive.
package liveness

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the backend's perceived availability.
type Status string

const (
	// StatusChecking means a probing session just began and nothing is known yet.
	StatusChecking Status = "checking"
	// StatusWaking means probes have failed long enough that the backend is likely cold-starting.
	StatusWaking Status = "waking"
	// StatusOnline means the last probe succeeded.
	StatusOnline Status = "online"
	// StatusOffline means probes failed past the patience ceiling; only a slow background probe
	// keeps watching for the backend's return.
	StatusOffline Status = "offline"
)

// Snapshot pairs the current status with the whole seconds elapsed since the probing session began.
type Snapshot struct {
	Status  Status
	Elapsed int
}

// ProbeFunc performs one bounded health check, returning nil when the backend answered.
type ProbeFunc func(ctx context.Context) error

// Options tune the monitor's clocks. Zero values select the defaults.
type Options struct {
	// ProbeInterval is the time between probes while checking or waking.
	ProbeInterval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// WakingAfter is how long checking may fail before it escalates to waking.
	WakingAfter time.Duration
	// OfflineAfter is how long checking or waking may fail before the machine gives up and goes
	// offline.
	OfflineAfter time.Duration
	// BackgroundInterval is the time between probes while offline.
	BackgroundInterval time.Duration
	// ElapsedTick is the cadence of the elapsed counter.
	ElapsedTick time.Duration
}

func (o Options) withDefaults() Options {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 3 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.WakingAfter <= 0 {
		o.WakingAfter = 3 * time.Second
	}
	if o.OfflineAfter <= 0 {
		o.OfflineAfter = 60 * time.Second
	}
	if o.BackgroundInterval <= 0 {
		o.BackgroundInterval = 10 * time.Second
	}
	if o.ElapsedTick <= 0 {
		o.ElapsedTick = time.Second
	}
	return o
}

// Monitor drives the availability state machine. At most one polling session is active at a time;
// Retry tears the running session down, timers included, before starting the next, and Dispose
// stops everything for good. Probes from a torn-down session can still complete afterwards, but
// they are recognized by generation and never touch the state.
type Monitor struct {
	probe  ProbeFunc
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	status   Status
	began    time.Time
	elapsed  int
	gen      int
	cancel   context.CancelFunc
	stop     chan struct{}
	started  bool
	disposed bool

	updates chan Snapshot
}

// NewMonitor creates a monitor around probe. Probing does not begin until Start.
func NewMonitor(probe ProbeFunc, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		probe:   probe,
		opts:    opts.withDefaults(),
		logger:  logger.With(slog.String("module", "liveness")),
		status:  StatusChecking,
		updates: make(chan Snapshot, 64),
	}
}

// Start begins the first polling session. Further calls are no-ops; use Retry to restart.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.disposed {
		return
	}
	m.started = true
	m.beginSessionLocked()
}

// Retry cancels the running session unconditionally and starts a fresh one from checking with the
// elapsed counter at zero.
func (m *Monitor) Retry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.disposed {
		return
	}
	m.endSessionLocked()
	m.beginSessionLocked()
}

// Dispose permanently stops the monitor and closes the updates channel. No state changes happen
// afterwards.
func (m *Monitor) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disposed {
		return
	}
	m.disposed = true
	m.endSessionLocked()
	close(m.updates)
}

// Snapshot returns the current status and elapsed seconds.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Status: m.status, Elapsed: m.elapsed}
}

// Updates returns the monitor's snapshot stream. Every status change and every elapsed tick
// produces a snapshot; slow consumers lose intermediate ones. The channel is closed by Dispose.
func (m *Monitor) Updates() <-chan Snapshot {
	return m.updates
}

func (m *Monitor) beginSessionLocked() {
	m.gen++
	m.status = StatusChecking
	m.began = time.Now()
	m.elapsed = 0

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.stop = make(chan struct{})

	m.publishLocked()
	go m.run(ctx, m.gen, m.stop)
}

func (m *Monitor) endSessionLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
	}
}

func (m *Monitor) publishLocked() {
	if m.disposed {
		return
	}
	select {
	case m.updates <- Snapshot{Status: m.status, Elapsed: m.elapsed}:
	default:
	}
}

func (m *Monitor) run(ctx context.Context, gen int, stop <-chan struct{}) {
	if m.probeOnce(ctx, gen) {
		return
	}

	probeTicker := time.NewTicker(m.opts.ProbeInterval)
	defer probeTicker.Stop()
	clockTicker := time.NewTicker(m.opts.ElapsedTick)
	defer clockTicker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-clockTicker.C:
			if m.advanceClock(gen) {
				// Offline: the fast cadence stops here and only the slow background probe stays
				probeTicker.Stop()
				clockTicker.Stop()
				m.runBackground(ctx, gen, stop)
				return
			}
		case <-probeTicker.C:
			if m.probeOnce(ctx, gen) {
				return
			}
		}
	}
}

// runBackground keeps watching for the backend's return at the slow cadence after the machine went
// offline. The elapsed clock stays frozen at the ceiling during this phase.
func (m *Monitor) runBackground(ctx context.Context, gen int, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.BackgroundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if m.probeOnce(ctx, gen) {
				return
			}
		}
	}
}

// probeOnce runs one bounded probe and reports whether the session's loop should exit, either
// because the backend answered or because the session was superseded while the probe ran.
func (m *Monitor) probeOnce(ctx context.Context, gen int) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.probe(probeCtx)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.disposed {
		return true
	}

	if err != nil {
		m.logger.Debug("Health probe failed",
			slog.String("err", err.Error()),
		)
		return false
	}

	if m.status != StatusOnline {
		m.logger.Info("Backend is online",
			slog.Int("elapsedSeconds", m.elapsed),
		)
		m.status = StatusOnline
		m.publishLocked()
	}
	return true
}

// advanceClock moves the elapsed counter forward and applies the time-based escalations. It
// reports whether the machine just went offline.
func (m *Monitor) advanceClock(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.disposed {
		return false
	}

	m.elapsed++
	since := time.Since(m.began)

	if m.status == StatusChecking && since > m.opts.WakingAfter {
		m.logger.Info("Backend is waking up")
		m.status = StatusWaking
	}

	if since > m.opts.OfflineAfter {
		m.logger.Warn("Backend went offline",
			slog.Int("elapsedSeconds", m.elapsed),
		)
		m.status = StatusOffline
		m.publishLocked()
		return true
	}

	m.publishLocked()
	return false
}

package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/control"
)

// Probe status values.
const (
	ProbeUnknown     = "unknown"
	ProbeReachable   = "reachable"
	ProbeUnreachable = "unreachable"
)

// WorkerProbe tracks the liveness of a single registered worker.
// Thread-safe: protected by the LivenessMonitor's mutex when accessed.
type WorkerProbe struct {
	LastCheck        time.Time        // Timestamp of the last probe attempt
	LastReachable    time.Time        // Timestamp of the last successful probe
	Address          control.HostPort // Address probed, tracks re-registrations
	Status           string           // Current status: reachable, unreachable, unknown
	Partition        int              // Partition index of the worker
	ConsecutiveFails int              // Consecutive failed probes
}

// LivenessMonitor periodically probes every registered worker's
// /control/ping route and tracks which ones stopped answering.
//
// The monitor is strictly observational: it never removes a worker from
// the registry and never touches the full-cluster flag. A worker that
// stops answering is reported through the callback and the sweep hook;
// deciding what to do about it is the operator's call.
//
// Thread-safe: all methods are safe for concurrent access.
type LivenessMonitor struct {
	probes        map[int]*WorkerProbe                       // Probe state per partition
	httpClient    *http.Client                               // Client for liveness probes
	checkFunc     func(addr control.HostPort) error          // Probe implementation, replaceable in tests
	onUnreachable func(partition int, addr control.HostPort) // Callback on reachable -> unreachable
	sweepHook     func(unreachable int)                      // Receives the unreachable count after each sweep
	log           *zap.Logger                                // Sweep and transition logging
	ctx           context.Context                            // Internal cancellation
	cancel        context.CancelFunc                         // Cancel function for Stop
	interval      time.Duration                              // Time between sweeps
	mu            sync.RWMutex                               // Protects probes and callbacks
	wg            sync.WaitGroup                             // Joins the sweep loop on Stop
	maxFailures   int                                        // Failures before marking unreachable
}

// NewLivenessMonitor creates a monitor that sweeps every registered
// worker at the given interval. Workers are marked unreachable after 3
// consecutive failed probes.
func NewLivenessMonitor(interval time.Duration, log *zap.Logger) *LivenessMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LivenessMonitor{
		interval:    interval,
		maxFailures: 3,
		probes:      make(map[int]*WorkerProbe),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnreachable registers the callback invoked when a worker
// transitions to unreachable. The callback runs on its own goroutine.
func (m *LivenessMonitor) SetOnUnreachable(fn func(partition int, addr control.HostPort)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUnreachable = fn
}

// SetCheckFunc overrides the probe implementation. Useful for tests.
func (m *LivenessMonitor) SetCheckFunc(fn func(addr control.HostPort) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkFunc = fn
}

// Start runs the sweep loop in the current goroutine until the context
// is cancelled or Stop is called. The provider returns the workers to
// probe, typically the registry's Hosts snapshot.
func (m *LivenessMonitor) Start(ctx context.Context, provider func() map[int]control.HostPort) {
	m.wg.Add(1)
	defer m.wg.Done()

	if ctx == nil {
		ctx = m.ctx
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("liveness monitor started", zap.Duration("interval", m.interval))

	// Probe immediately rather than waiting out the first interval
	m.sweep(provider())

	for {
		select {
		case <-ticker.C:
			m.sweep(provider())
		case <-ctx.Done():
			m.log.Info("liveness monitor stopping")
			return
		case <-m.ctx.Done():
			m.log.Info("liveness monitor stopping")
			return
		}
	}
}

// Stop cancels the sweep loop and waits for it to exit. Safe to call
// more than once.
func (m *LivenessMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// sweep probes every provided worker and drops state for workers that
// left the registry since the last sweep.
func (m *LivenessMonitor) sweep(workers map[int]control.HostPort) {
	current := make(map[int]bool, len(workers))
	for partition, addr := range workers {
		current[partition] = true
		m.probe(partition, addr)
	}

	m.mu.Lock()
	for partition := range m.probes {
		if !current[partition] {
			delete(m.probes, partition)
			m.log.Debug("dropped probe state", zap.Int("partition", partition))
		}
	}
	unreachable := 0
	for _, p := range m.probes {
		if p.Status == ProbeUnreachable {
			unreachable++
		}
	}
	hook := m.sweepHook
	m.mu.Unlock()

	if hook != nil {
		hook(unreachable)
	}
}

// probe checks a single worker and updates its probe record.
func (m *LivenessMonitor) probe(partition int, addr control.HostPort) {
	m.mu.Lock()
	p, exists := m.probes[partition]
	if !exists {
		p = &WorkerProbe{
			Partition:     partition,
			Address:       addr,
			Status:        ProbeUnknown,
			LastCheck:     time.Now(),
			LastReachable: time.Now(),
		}
		m.probes[partition] = p
	}
	// Re-registration may have moved the worker
	p.Address = addr
	check := m.checkFunc
	if check == nil {
		check = m.defaultCheck
	}
	m.mu.Unlock()

	err := check(addr)

	m.mu.Lock()
	defer m.mu.Unlock()

	p.LastCheck = time.Now()

	if err != nil {
		p.ConsecutiveFails++
		m.log.Warn("liveness probe failed",
			zap.Int("partition", partition),
			zap.String("addr", addr.String()),
			zap.Int("attempt", p.ConsecutiveFails),
			zap.Int("max", m.maxFailures),
			zap.Error(err))

		if p.ConsecutiveFails >= m.maxFailures {
			previous := p.Status
			p.Status = ProbeUnreachable

			if previous != ProbeUnreachable && m.onUnreachable != nil {
				m.log.Warn("worker unreachable",
					zap.Int("partition", partition),
					zap.String("addr", addr.String()),
					zap.Int("failures", p.ConsecutiveFails))
				// Call the callback without holding the lock
				go m.onUnreachable(partition, p.Address)
			}
		}
		return
	}

	if p.Status == ProbeUnreachable {
		m.log.Info("worker recovered",
			zap.Int("partition", partition),
			zap.String("addr", addr.String()))
	}
	p.Status = ProbeReachable
	p.ConsecutiveFails = 0
	p.LastReachable = time.Now()
}

// defaultCheck GETs the worker's ping route and treats anything but a
// 200 as a failure.
func (m *LivenessMonitor) defaultCheck(addr control.HostPort) error {
	resp, err := m.httpClient.Get(addr.URL() + control.PingPath)
	if err != nil {
		return fmt.Errorf("liveness probe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness probe returned status %d", resp.StatusCode)
	}
	return nil
}

// Probe returns a copy of the probe record for a partition, or nil if
// the partition is not being monitored.
func (m *LivenessMonitor) Probe(partition int) *WorkerProbe {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.probes[partition]
	if !exists {
		return nil
	}
	copied := *p
	return &copied
}

// Probes returns a copy of every probe record keyed by partition.
func (m *LivenessMonitor) Probes() map[int]*WorkerProbe {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[int]*WorkerProbe, len(m.probes))
	for partition, p := range m.probes {
		copied := *p
		out[partition] = &copied
	}
	return out
}

// IsReachable reports whether a partition's worker answered its most
// recent probes. False for unmonitored partitions.
func (m *LivenessMonitor) IsReachable(partition int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.probes[partition]
	return exists && p.Status == ProbeReachable
}

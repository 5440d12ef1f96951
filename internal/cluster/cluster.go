package cluster

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/control"
	"github.com/dreamware/partfleet/internal/coordinator"
	"github.com/dreamware/partfleet/internal/dataset"
	"github.com/dreamware/partfleet/internal/engine"
	"github.com/dreamware/partfleet/internal/worker"
)

// State is the orchestrator's lifecycle state.
type State string

// Lifecycle states reported by State.
const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// rollbackGrace bounds the teardown of a partially started activation.
const rollbackGrace = 5 * time.Second

// closeGrace bounds Close's implicit Stop. Generous enough to cover
// workers still burning their registration retry budget.
const closeGrace = 15 * time.Second

// dispatch tracks one engine.Run call in flight.
type dispatch struct {
	done    chan struct{} // Closed when the engine returns
	cancel  context.CancelFunc
	results []engine.PartitionResult // Valid once done is closed
	err     error                    // Valid once done is closed
}

// Cluster orchestrates one activation at a time: coordinator up, workers
// dispatched, fleet awaited, fleet torn down.
//
// Thread-safe: all methods are safe for concurrent use, though only one
// transition runs at a time.
type Cluster struct {
	engine   engine.Engine
	ds       dataset.Dataset
	template worker.Runtime

	retainResult bool
	pollInterval time.Duration
	coordHost    string
	coordPort    int
	log          *zap.Logger

	mu          sync.Mutex
	state       State
	coord       *coordinator.Server // Survives Stop so Hosts stays answerable
	disp        *dispatch
	runID       string
	results     []engine.PartitionResult
	haveResults bool
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithRetainResult keeps the dispatch's per-partition results for Result.
func WithRetainResult() Option {
	return func(c *Cluster) { c.retainResult = true }
}

// WithPollInterval sets how often the await barrier rechecks the
// full-cluster flag. Default 100ms.
func WithPollInterval(d time.Duration) Option {
	return func(c *Cluster) { c.pollInterval = d }
}

// WithCoordinatorHost sets the host the activation's coordinator binds
// and advertises. The default binds all interfaces.
func WithCoordinatorHost(host string) Option {
	return func(c *Cluster) { c.coordHost = host }
}

// WithCoordinatorPort sets a fixed coordinator port. Zero picks an
// ephemeral port per activation.
func WithCoordinatorPort(port int) Option {
	return func(c *Cluster) { c.coordPort = port }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cluster) { c.log = log }
}

// New creates an orchestrator over an execution engine, a partitioned
// dataset, and a worker template. Nothing runs until Start.
func New(eng engine.Engine, ds dataset.Dataset, template worker.Runtime, opts ...Option) *Cluster {
	c := &Cluster{
		engine:       eng,
		ds:           ds,
		template:     template,
		pollInterval: 100 * time.Millisecond,
		log:          zap.NewNop(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newToken mints a cluster token: ten random bytes, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Start activates the cluster. Starting an active cluster is a no-op;
// starting mid-transition fails with ErrBusy. With awaitHosts, Start
// blocks until every partition registered or ctx is cancelled. A failed
// Start rolls everything back and leaves the cluster idle.
func (c *Cluster) Start(ctx context.Context, awaitHosts bool) error {
	c.mu.Lock()
	switch c.state {
	case StateActive:
		c.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		c.mu.Unlock()
		return &PhaseError{Phase: PhaseStart, Err: ErrBusy}
	}
	c.state = StateStarting
	c.mu.Unlock()

	if err := c.activate(ctx, awaitHosts); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *Cluster) activate(ctx context.Context, awaitHosts bool) error {
	partitions := c.ds.NumPartitions()
	if partitions <= 0 {
		return &PhaseError{Phase: PhaseStart, Err: errors.New("dataset has no partitions")}
	}
	if awaitHosts {
		if slots := c.engine.Slots(); slots > 0 && slots < partitions {
			return &PhaseError{
				Phase: PhaseStart,
				Err:   fmt.Errorf("%w: %d slots for %d partitions", ErrInsufficientSlots, slots, partitions),
			}
		}
	}

	token, err := newToken()
	if err != nil {
		return &PhaseError{Phase: PhaseStart, Err: fmt.Errorf("generate cluster token: %w", err)}
	}
	runID := uuid.NewString()
	log := c.log.With(zap.String("run", runID))

	coord := coordinator.NewServer(
		coordinator.WithExpectedPartitions(partitions),
		coordinator.WithToken(token),
		coordinator.WithListenHost(c.coordHost),
		coordinator.WithPort(c.coordPort),
		coordinator.WithLogger(log),
	)
	if err := coord.Start(); err != nil {
		return &PhaseError{Phase: PhaseStart, Err: err}
	}
	log.Info("activation starting",
		zap.String("coordinator", coord.URL()),
		zap.Int("partitions", partitions),
		zap.Bool("await_hosts", awaitHosts))

	c.template.Configure(coord.URL(), token)

	// The fleet outlives Start's context; only Stop or a rollback ends it
	dctx, cancel := context.WithCancel(context.Background())
	d := &dispatch{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(d.done)
		d.results, d.err = c.engine.Run(dctx, c.ds, c.template.Run)
	}()

	if awaitHosts {
		if err := c.await(ctx, coord, d); err != nil {
			c.rollback(coord, d, log)
			return err
		}
		log.Info("fleet complete", zap.Int("partitions", partitions))
	}

	c.mu.Lock()
	c.state = StateActive
	c.coord = coord
	c.disp = d
	c.runID = runID
	c.results = nil
	c.haveResults = false
	c.mu.Unlock()
	return nil
}

// await polls the coordinator until the fleet latches full. A dispatch
// that finishes while the barrier is up is a failure, not progress.
func (c *Cluster) await(ctx context.Context, coord *coordinator.Server, d *dispatch) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if coord.Full() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-d.done:
			err := d.err
			if err == nil {
				err = errors.New("dispatch finished before the fleet completed")
			}
			return &PhaseError{Phase: PhaseAwait, Err: err}
		case <-ctx.Done():
			return &PhaseError{Phase: PhaseAwait, Err: ctx.Err()}
		}
	}
}

// rollback unwinds a partial activation: commands any registered workers
// down, stops the coordinator, cancels the dispatch, and joins it.
func (c *Cluster) rollback(coord *coordinator.Server, d *dispatch, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackGrace)
	defer cancel()

	if err := coord.ShutdownAll(ctx); err != nil {
		log.Warn("rollback fan-out failed", zap.Error(err))
	}
	if err := coord.Stop(ctx); err != nil {
		log.Warn("rollback coordinator stop failed", zap.Error(err))
	}
	d.cancel()
	<-d.done
	log.Info("activation rolled back")
}

// Stop deactivates the cluster: shutdown fan-out to the fleet, stop the
// coordinator, join the dispatch. Requires an active cluster. The state
// always lands on idle, delivery failures ride along in the error.
func (c *Cluster) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return &PhaseError{Phase: PhaseStop, Err: ErrNotActive}
	}
	c.state = StateStopping
	coord, d := c.coord, c.disp
	log := c.log.With(zap.String("run", c.runID))
	c.mu.Unlock()

	var errs error
	if err := coord.ShutdownAll(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := coord.Stop(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}

	// Join the dispatch so no worker remains outstanding
	select {
	case <-d.done:
	case <-ctx.Done():
		d.cancel()
		<-d.done
		errs = multierr.Append(errs, fmt.Errorf("dispatch join: %w", ctx.Err()))
	}
	d.cancel()
	if d.err != nil {
		errs = multierr.Append(errs, fmt.Errorf("dispatch: %w", d.err))
	}

	c.mu.Lock()
	c.state = StateIdle
	c.disp = nil
	if c.retainResult {
		c.results = d.results
		c.haveResults = true
	}
	c.mu.Unlock()

	if errs != nil {
		log.Warn("activation stopped with failures", zap.Error(errs))
		return &PhaseError{Phase: PhaseStop, Err: errs}
	}
	log.Info("activation stopped")
	return nil
}

// Close stops the cluster if it is active. Meant for defer: a cluster
// someone already stopped is not an error.
func (c *Cluster) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
	defer cancel()

	err := c.Stop(ctx)
	if errors.Is(err, ErrNotActive) {
		return nil
	}
	return err
}

// State returns the orchestrator's lifecycle state.
func (c *Cluster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether an activation is running.
func (c *Cluster) Active() bool {
	return c.State() == StateActive
}

// Hosts returns a snapshot of the latest activation's registry, or nil
// when the cluster never started. After Stop the snapshot is empty, not
// nil.
func (c *Cluster) Hosts() map[int]control.HostPort {
	c.mu.Lock()
	coord := c.coord
	c.mu.Unlock()
	if coord == nil {
		return nil
	}
	return coord.Hosts().Hosts
}

// Result returns the retained per-partition results once the dispatch
// has completed. Absent unless WithRetainResult was set and the fleet
// has finished.
func (c *Cluster) Result() ([]engine.PartitionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.retainResult {
		return nil, false
	}
	if c.haveResults {
		return c.results, true
	}
	if d := c.disp; d != nil {
		select {
		case <-d.done:
			c.results = d.results
			c.haveResults = true
			return c.results, true
		default:
		}
	}
	return nil, false
}

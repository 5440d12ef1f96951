package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/partfleet/internal/control"
	"github.com/dreamware/partfleet/internal/httpserver"
)

// Server is a running coordinator: the Registry plus its HTTP surface,
// the shutdown fan-out, metrics, and optional liveness probing.
type Server struct {
	registry *Registry
	metrics  *metrics
	http     *httpserver.Server
	log      *zap.Logger

	token           string
	expected        int
	listenHost      string
	advertiseHost   string
	port            int
	shutdownTimeout time.Duration

	livenessInterval time.Duration
	onUnreachable    func(partition int, addr control.HostPort)

	mu       sync.Mutex
	liveness *LivenessMonitor
}

// Option configures a coordinator Server.
type Option func(*Server)

// WithExpectedPartitions sets the partition count that completes the
// fleet. Zero, the default, means no expectation.
func WithExpectedPartitions(n int) Option {
	return func(s *Server) { s.expected = n }
}

// WithToken sets the shared token required on /register and attached to
// outbound shutdown commands. Empty disables enforcement.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithListenHost sets the host the coordinator binds. The default binds
// all interfaces.
func WithListenHost(host string) Option {
	return func(s *Server) { s.listenHost = host }
}

// WithAdvertiseHost overrides the host reported by URL and Address.
func WithAdvertiseHost(host string) Option {
	return func(s *Server) { s.advertiseHost = host }
}

// WithPort sets a fixed listen port. Zero picks an ephemeral port.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithShutdownTimeout bounds each outbound shutdown command.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// WithLivenessInterval enables background liveness probing of
// registered workers at the given interval. Zero, the default, disables
// probing.
func WithLivenessInterval(d time.Duration) Option {
	return func(s *Server) { s.livenessInterval = d }
}

// WithOnUnreachable sets the callback invoked when a probed worker
// stops answering. Only meaningful together with WithLivenessInterval.
func WithOnUnreachable(fn func(partition int, addr control.HostPort)) Option {
	return func(s *Server) { s.onUnreachable = fn }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a coordinator. Call Start to bind and serve.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:             zap.NewNop(),
		shutdownTimeout: 4 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry = NewRegistry(s.expected)
	s.metrics = newMetrics()
	s.http = httpserver.New(s.routes(),
		httpserver.WithListenHost(s.listenHost),
		httpserver.WithAdvertiseHost(s.advertiseHost),
		httpserver.WithPort(s.port),
		httpserver.WithToken(s.token),
		httpserver.WithLogger(s.log),
		httpserver.WithOnShutdown(s.stopLiveness),
	)
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(control.RegisterPath, s.handleRegister)
	mux.HandleFunc(control.HostsPath, s.handleHosts)
	mux.HandleFunc(control.StatusPath, s.handleStatus)
	mux.Handle(control.MetricsPath, s.metrics.handler())
	return mux
}

// Start binds the coordinator's listener and, when configured, launches
// the liveness monitor. The bound address is final once Start returns.
func (s *Server) Start() error {
	if err := s.http.Start(); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}

	if s.livenessInterval > 0 {
		monitor := NewLivenessMonitor(s.livenessInterval, s.log)
		monitor.sweepHook = func(unreachable int) {
			s.metrics.unreachable.Set(float64(unreachable))
		}
		if s.onUnreachable != nil {
			monitor.SetOnUnreachable(s.onUnreachable)
		}
		s.mu.Lock()
		s.liveness = monitor
		s.mu.Unlock()
		go monitor.Start(nil, s.registry.Hosts)
	}

	s.log.Info("coordinator listening",
		zap.String("url", s.http.URL()),
		zap.Int("expected_partitions", s.expected))
	return nil
}

// Stop halts liveness probing and drains the HTTP server. Stopping a
// coordinator that was already stopped remotely is not an error.
func (s *Server) Stop(ctx context.Context) error {
	s.stopLiveness()
	err := s.http.Stop(ctx)
	if errors.Is(err, httpserver.ErrAlreadyStopped) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("stop coordinator: %w", err)
	}
	s.log.Info("coordinator stopped")
	return nil
}

func (s *Server) stopLiveness() {
	s.mu.Lock()
	monitor := s.liveness
	s.liveness = nil
	s.mu.Unlock()
	if monitor != nil {
		monitor.Stop()
	}
}

// URL returns the coordinator's advertised base URL. Empty before Start.
func (s *Server) URL() string {
	return s.http.URL()
}

// Address returns the coordinator's advertised host and bound port.
func (s *Server) Address() control.HostPort {
	return s.http.Address()
}

// Done is closed when the serving loop exits.
func (s *Server) Done() <-chan struct{} {
	return s.http.Done()
}

// Err reports why the serving loop failed, or nil for a clean exit.
func (s *Server) Err() error {
	return s.http.Err()
}

// SetObserver forwards to the registry's observer slot.
func (s *Server) SetObserver(fn Observer) {
	s.registry.SetObserver(fn)
}

// Liveness returns the running liveness monitor, or nil when probing is
// disabled or the server is stopped.
func (s *Server) Liveness() *LivenessMonitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveness
}

// Hosts assembles the discovery document served at /hosts.
func (s *Server) Hosts() control.HostsResponse {
	hosts, expected, full := s.registry.Snapshot()
	resp := control.HostsResponse{Hosts: hosts}
	if expected > 0 {
		f := full
		resp.ExpectedPartitions = &expected
		resp.FullCluster = &f
	}
	return resp
}

// Status assembles the summary served at /status.
func (s *Server) Status() control.StatusResponse {
	hosts, expected, full := s.registry.Snapshot()
	resp := control.StatusResponse{CurrentPartitions: len(hosts)}
	if expected > 0 {
		f := full
		resp.ExpectedPartitions = &expected
		resp.FullCluster = &f
	}
	return resp
}

// Full reports whether the fleet has latched complete.
func (s *Server) Full() bool {
	return s.registry.Full()
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !control.Authorized(r, s.token) {
		s.log.Warn("registration with bad token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	var req control.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	ev := s.registry.Register(req.Partition, control.HostPort{Host: req.Host, Port: req.Port})
	s.metrics.registrations.Inc()
	s.metrics.workers.Set(float64(s.registry.Len()))

	if ev.Previous != nil {
		s.log.Info("partition re-registered",
			zap.Int("partition", ev.Partition),
			zap.String("addr", ev.Address.String()),
			zap.String("previous", ev.Previous.String()))
	} else {
		s.log.Info("partition registered",
			zap.Int("partition", ev.Partition),
			zap.String("addr", ev.Address.String()))
	}
	if ev.FullCluster {
		s.log.Info("cluster complete", zap.Int("partitions", s.registry.Len()))
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Hosts())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Status())
}

// ShutdownWorker sends the shutdown command to one partition's worker
// and removes its registry entry whether or not the command lands; the
// registry records membership intent, not liveness. Unknown partitions
// are a no-op.
func (s *Server) ShutdownWorker(ctx context.Context, partition int) error {
	addr, ok := s.registry.Get(partition)
	if !ok {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	err := control.PostJSON(cctx, control.WithToken(addr.URL()+control.ShutdownPath, s.token), nil, nil)

	s.registry.Remove(partition)
	s.metrics.workers.Set(float64(s.registry.Len()))

	if err != nil {
		s.metrics.shutdownFailures.Inc()
		s.log.Warn("worker shutdown failed",
			zap.Int("partition", partition),
			zap.String("addr", addr.String()),
			zap.Error(err))
		return fmt.Errorf("shutdown partition %d at %s: %w", partition, addr, err)
	}

	s.log.Info("worker shut down",
		zap.Int("partition", partition),
		zap.String("addr", addr.String()))
	return nil
}

// ShutdownAll fans the shutdown command out to a snapshot of the fleet,
// waits for every delivery attempt, then resets the registry to its
// activation-initial state. Failures are aggregated, not fatal: the
// reset happens regardless so a fresh activation starts clean.
func (s *Server) ShutdownAll(ctx context.Context) error {
	partitions := s.registry.Partitions()

	errs := make([]error, len(partitions))
	grp := &errgroup.Group{}
	for i, partition := range partitions {
		i, partition := i, partition
		grp.Go(func() error {
			errs[i] = s.ShutdownWorker(ctx, partition)
			return nil
		})
	}
	_ = grp.Wait()

	s.registry.Reset()
	s.metrics.workers.Set(0)

	if err := multierr.Combine(errs...); err != nil {
		s.log.Warn("shutdown fan-out finished with failures",
			zap.Int("workers", len(partitions)),
			zap.Error(err))
		return err
	}
	if len(partitions) > 0 {
		s.log.Info("all workers shut down", zap.Int("workers", len(partitions)))
	}
	return nil
}

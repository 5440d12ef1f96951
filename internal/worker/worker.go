package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/control"
	"github.com/dreamware/partfleet/internal/dataset"
	"github.com/dreamware/partfleet/internal/httpserver"
)

// ErrNotConfigured is returned by Run when Configure was never called.
var ErrNotConfigured = errors.New("worker has no coordinator configured")

// Runtime is the template contract the orchestrator dispatches: Configure
// once with the activation's coordinator and token, then Run once per
// partition on the execution engine.
type Runtime interface {
	Configure(coordinatorURL, token string)
	Run(ctx context.Context, partition int, records dataset.Iterator) ([]byte, error)
}

// Info hands the init hook its partition's context: the records assigned
// to it, the bound address peers will dial, and the mux it may extend
// with application routes.
type Info struct {
	Records   dataset.Iterator
	Mux       *http.ServeMux
	Host      string
	Port      int
	Partition int
}

// InitFunc runs once per dispatch, after binding and before registration.
// Returning an error aborts that partition's lifecycle.
type InitFunc func(ctx context.Context, info Info) error

// Server is a worker runtime template. The zero value is not usable;
// build one with NewServer or NewAppServer.
//
// Thread-safe: one configured Server may be dispatched for any number of
// partitions concurrently.
type Server struct {
	app http.Handler // Routed application under /app, nil for the raw variant

	init       InitFunc                   // Post-bind, pre-register hook
	onShutdown func(partition int)        // Fires once per valid shutdown command
	result     func(partition int) []byte // Produces Run's return value
	newBackoff func() backoff.BackOff     // Registration retry policy factory

	listenHost    string // Bind host, default all interfaces
	advertiseHost string // Host reported to the coordinator
	port          int    // Fixed port, 0 picks ephemeral per Run

	log *zap.Logger

	mu             sync.Mutex // Guards the Configure-set fields
	coordinatorURL string
	token          string
}

// Option configures a worker Server.
type Option func(*Server)

// WithHost sets the host the worker binds. It also becomes the advertised
// host unless WithAdvertiseHost overrides it.
func WithHost(host string) Option {
	return func(s *Server) { s.listenHost = host }
}

// WithAdvertiseHost overrides the host registered with the coordinator.
func WithAdvertiseHost(host string) Option {
	return func(s *Server) { s.advertiseHost = host }
}

// WithPort sets a fixed listen port. Zero, the default, picks a fresh
// ephemeral port for every Run, which is what a multi-partition dispatch
// on one host needs.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithInit sets the hook run once per partition after binding, before
// registration.
func WithInit(fn InitFunc) Option {
	return func(s *Server) { s.init = fn }
}

// WithOnShutdown sets the observer invoked once when a partition's worker
// accepts a shutdown command.
func WithOnShutdown(fn func(partition int)) Option {
	return func(s *Server) { s.onShutdown = fn }
}

// WithResult sets the hook whose return value Run hands back after a
// clean shutdown. Without it Run returns nil bytes.
func WithResult(fn func(partition int) []byte) Option {
	return func(s *Server) { s.result = fn }
}

// WithRegisterBackoff replaces the registration retry policy. The factory
// is called once per Run; policies are stateful and must not be shared
// across concurrent partitions.
func WithRegisterBackoff(factory func() backoff.BackOff) Option {
	return func(s *Server) { s.newBackoff = factory }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates the raw worker variant: control routes only.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:        zap.NewNop(),
		newBackoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewAppServer creates the routed worker variant, mounting app under the
// fixed /app prefix. The prefix is stripped before app sees the request.
func NewAppServer(app http.Handler, opts ...Option) *Server {
	s := NewServer(opts...)
	s.app = app
	return s
}

// defaultBackoff retries registration for roughly ten seconds, long
// enough to ride out a coordinator that is still binding its listener.
func defaultBackoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 10 * time.Second
	return policy
}

// Configure points the template at an activation's coordinator. Must
// complete before the first dispatch.
func (s *Server) Configure(coordinatorURL, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coordinatorURL = coordinatorURL
	s.token = token
}

// Run drives one partition's full lifecycle: bind, init, register, serve,
// terminate. It blocks until a valid shutdown command arrives or ctx is
// cancelled, then returns the result hook's value. The execution engine
// calls this once per partition.
func (s *Server) Run(ctx context.Context, partition int, records dataset.Iterator) ([]byte, error) {
	s.mu.Lock()
	coordURL, token := s.coordinatorURL, s.token
	s.mu.Unlock()
	if coordURL == "" {
		return nil, ErrNotConfigured
	}

	log := s.log.With(zap.Int("partition", partition))

	mux := http.NewServeMux()
	mux.HandleFunc(control.PingPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.app != nil {
		mux.Handle(control.AppPrefix+"/", http.StripPrefix(control.AppPrefix, s.app))
	}

	srv := httpserver.New(mux,
		httpserver.WithListenHost(s.listenHost),
		httpserver.WithAdvertiseHost(s.advertiseHost),
		httpserver.WithPort(s.port),
		httpserver.WithToken(token),
		httpserver.WithLogger(log),
		httpserver.WithOnShutdown(func() {
			if s.onShutdown != nil {
				s.onShutdown(partition)
			}
		}),
	)
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("bind partition %d: %w", partition, err)
	}

	addr := srv.Address()
	log.Info("worker bound", zap.String("addr", addr.String()))

	if s.init != nil {
		info := Info{
			Records:   records,
			Mux:       mux,
			Host:      addr.Host,
			Port:      addr.Port,
			Partition: partition,
		}
		if err := s.init(ctx, info); err != nil {
			s.stopServer(srv, log)
			return nil, fmt.Errorf("init partition %d: %w", partition, err)
		}
	}

	if err := s.register(ctx, coordURL, token, partition, addr); err != nil {
		s.stopServer(srv, log)
		return nil, err
	}
	log.Info("worker registered", zap.String("coordinator", coordURL))

	select {
	case <-srv.Done():
		// Shutdown command accepted, or the serve loop died
	case <-ctx.Done():
		// Engine teardown, not a shutdown command: no observer hook
		s.stopServer(srv, log)
		return nil, ctx.Err()
	}

	if err := srv.Err(); err != nil {
		return nil, fmt.Errorf("serve partition %d: %w", partition, err)
	}

	log.Info("worker terminated")
	if s.result != nil {
		return s.result(partition), nil
	}
	return nil, nil
}

// register announces the bound address to the coordinator. Network errors
// are retried per the backoff policy; any HTTP-level rejection is final
// because the coordinator answered and will answer the same way again.
func (s *Server) register(ctx context.Context, coordURL, token string, partition int, addr control.HostPort) error {
	req := control.RegisterRequest{Partition: partition, Host: addr.Host, Port: addr.Port}
	url := control.WithToken(coordURL+control.RegisterPath, token)

	attempt := 0
	op := func() error {
		attempt++
		err := control.PostJSON(ctx, url, req, nil)
		if err == nil {
			return nil
		}
		var statusErr *control.StatusError
		if errors.As(err, &statusErr) {
			return backoff.Permanent(err)
		}
		s.log.Warn("registration attempt failed",
			zap.Int("partition", partition),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(s.newBackoff(), ctx)); err != nil {
		return fmt.Errorf("register partition %d with %s: %w", partition, coordURL, err)
	}
	return nil
}

func (s *Server) stopServer(srv *httpserver.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil && !errors.Is(err, httpserver.ErrAlreadyStopped) {
		log.Warn("worker server stop failed", zap.Error(err))
	}
}

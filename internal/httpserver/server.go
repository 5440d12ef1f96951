package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/control"
)

var (
	// ErrNotStarted is returned when Stop or Address is used before Start.
	ErrNotStarted = errors.New("server not started")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrAlreadyStopped is returned when Stop is called on a stopped server.
	ErrAlreadyStopped = errors.New("server already stopped")
)

const (
	stateIdle = iota
	stateServing
	stateStopped
)

// Server wraps http.Server with listener-first startup, a token-checked
// remote shutdown route, and graceful teardown.
//
// The zero port means "let the kernel pick": Start binds the listener
// before returning, so the chosen port is immediately observable. All
// exported methods are safe for concurrent use.
type Server struct {
	handler       http.Handler
	listenHost    string
	advertiseHost string
	port          int
	token         string
	stopGrace     time.Duration
	onShutdown    func()
	log           *zap.Logger

	mu        sync.Mutex
	state     int
	ln        net.Listener
	httpSrv   *http.Server
	boundHost string
	boundPort int
	serveErr  error

	done     chan struct{}
	hookOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithListenHost sets the host the listener binds to. The default, an
// empty string, binds all interfaces.
func WithListenHost(host string) Option {
	return func(s *Server) { s.listenHost = host }
}

// WithAdvertiseHost sets the host reported by Host, Address, and URL,
// overriding the listen-host fallback.
func WithAdvertiseHost(host string) Option {
	return func(s *Server) { s.advertiseHost = host }
}

// WithPort sets a fixed listen port. Zero, the default, picks a free
// ephemeral port.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithToken sets the shared token required by the remote shutdown route.
// An empty token disables the check.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithStopGrace bounds how long a remotely triggered shutdown waits for
// in-flight requests to drain.
func WithStopGrace(d time.Duration) Option {
	return func(s *Server) { s.stopGrace = d }
}

// WithOnShutdown registers a hook invoked at most once, after a valid
// remote shutdown request is acknowledged and before serving ends.
func WithOnShutdown(fn func()) Option {
	return func(s *Server) { s.onShutdown = fn }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// New creates a Server that will serve handler alongside the built-in
// control routes. A nil handler serves control routes only.
func New(handler http.Handler, opts ...Option) *Server {
	s := &Server{
		handler:   handler,
		stopGrace: 5 * time.Second,
		log:       zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and launches the serving loop. The bound
// address is final once Start returns.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateIdle {
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.listenHost, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.ln = ln
	s.boundPort = ln.Addr().(*net.TCPAddr).Port
	s.boundHost = s.resolveAdvertiseHost()

	mux := http.NewServeMux()
	mux.HandleFunc(control.ShutdownPath, s.handleShutdown)
	if s.handler != nil {
		mux.Handle("/", s.handler)
	}

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.state = stateServing

	go s.serve()

	s.log.Info("listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("advertise", s.boundHost))
	return nil
}

func (s *Server) serve() {
	err := s.httpSrv.Serve(s.ln)
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.serveErr = err
		s.mu.Unlock()
		s.log.Error("serve failed", zap.Error(err))
	}
	close(s.done)
}

// Stop drains in-flight requests and stops the serving loop. It returns
// ErrNotStarted before Start and ErrAlreadyStopped on repeat calls.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateIdle:
		s.mu.Unlock()
		return ErrNotStarted
	case stateStopped:
		s.mu.Unlock()
		return ErrAlreadyStopped
	}
	s.state = stateStopped
	srv := s.httpSrv
	s.mu.Unlock()

	err := srv.Shutdown(ctx)
	if err != nil {
		// Drain deadline expired; close whatever is left.
		_ = srv.Close()
	}
	<-s.done
	s.log.Info("stopped", zap.Int("port", s.boundPort))
	return err
}

// handleShutdown acknowledges a valid shutdown request, runs the hook
// once, and drains the server in the background. Responding before the
// drain keeps the acknowledgement from being caught in it.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !control.Authorized(r, s.token) {
		s.log.Warn("shutdown request with bad token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("shutting down\n"))

	if s.onShutdown != nil {
		s.hookOnce.Do(s.onShutdown)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.stopGrace)
		defer cancel()
		_ = s.Stop(ctx)
	}()
}

// resolveAdvertiseHost picks the host peers should dial. Called with
// s.mu held.
func (s *Server) resolveAdvertiseHost() string {
	if s.advertiseHost != "" {
		return s.advertiseHost
	}
	if s.listenHost != "" && s.listenHost != "0.0.0.0" && s.listenHost != "::" {
		return s.listenHost
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "127.0.0.1"
}

// Host returns the advertised host. Empty before Start.
func (s *Server) Host() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundHost
}

// Port returns the bound port. Zero before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundPort
}

// Address returns the advertised host and bound port.
func (s *Server) Address() control.HostPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	return control.HostPort{Host: s.boundHost, Port: s.boundPort}
}

// URL returns the advertised base URL. Empty before Start.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateIdle {
		return ""
	}
	return control.HostPort{Host: s.boundHost, Port: s.boundPort}.URL()
}

// Done is closed when the serving loop exits, whether from Stop, a
// remote shutdown, or a serve failure.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err reports why the serving loop failed, or nil for a clean exit.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

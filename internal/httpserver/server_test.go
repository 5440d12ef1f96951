package httpserver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/partfleet/internal/control"
)

// helloHandler is a trivial application handler for lifecycle tests.
func helloHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("hello"))
	})
	return mux
}

// waitDone fails the test if the serving loop does not exit promptly.
func waitDone(t *testing.T, s *Server) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to stop")
	}
}

// TestServerStartStop verifies the basic bind, serve, and stop cycle.
func TestServerStartStop(t *testing.T) {
	srv := New(helloHandler(), WithListenHost("127.0.0.1"))

	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background()) //nolint:errcheck // already stopped below

	// The bound address is observable immediately after Start
	assert.Equal(t, "127.0.0.1", srv.Host())
	assert.Greater(t, srv.Port(), 0)
	assert.Equal(t, control.HostPort{Host: "127.0.0.1", Port: srv.Port()}, srv.Address())

	resp, err := http.Get(srv.URL() + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	waitDone(t, srv)
	assert.NoError(t, srv.Err())

	// Stopping again reports the terminal state
	assert.ErrorIs(t, srv.Stop(context.Background()), ErrAlreadyStopped)
}

// TestServerLifecycleErrors verifies misuse is reported with sentinel errors.
func TestServerLifecycleErrors(t *testing.T) {
	srv := New(nil, WithListenHost("127.0.0.1"))

	// Stop before Start
	assert.ErrorIs(t, srv.Stop(context.Background()), ErrNotStarted)
	assert.Empty(t, srv.URL())
	assert.Zero(t, srv.Port())

	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background()) //nolint:errcheck

	// Double Start
	assert.ErrorIs(t, srv.Start(), ErrAlreadyStarted)
}

// TestServerEphemeralPorts verifies port 0 yields distinct kernel-assigned ports.
func TestServerEphemeralPorts(t *testing.T) {
	a := New(nil, WithListenHost("127.0.0.1"))
	b := New(nil, WithListenHost("127.0.0.1"))
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer a.Stop(context.Background()) //nolint:errcheck
	defer b.Stop(context.Background()) //nolint:errcheck

	assert.Greater(t, a.Port(), 0)
	assert.Greater(t, b.Port(), 0)
	assert.NotEqual(t, a.Port(), b.Port())
}

// TestServerRemoteShutdown verifies the token-checked shutdown route.
func TestServerRemoteShutdown(t *testing.T) {
	var hookCalls int
	var mu sync.Mutex

	srv := New(helloHandler(),
		WithListenHost("127.0.0.1"),
		WithToken("secret"),
		WithOnShutdown(func() {
			mu.Lock()
			hookCalls++
			mu.Unlock()
		}),
	)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background()) //nolint:errcheck

	shutdownURL := srv.URL() + control.ShutdownPath

	// Missing token is rejected and the server keeps serving
	resp, err := http.Post(shutdownURL, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Wrong token is rejected too
	resp, err = http.Post(shutdownURL+"?token=wrong", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = http.Get(srv.URL() + "/hello")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	mu.Lock()
	assert.Equal(t, 0, hookCalls, "hook must not fire on rejected requests")
	mu.Unlock()

	// Valid token is acknowledged before the server stops
	resp, err = http.Post(control.WithToken(shutdownURL, "secret"), "", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shutting down\n", string(body))

	waitDone(t, srv)

	mu.Lock()
	assert.Equal(t, 1, hookCalls)
	mu.Unlock()
}

// TestServerShutdownMethod verifies only POST reaches the shutdown handler.
func TestServerShutdownMethod(t *testing.T) {
	srv := New(nil, WithListenHost("127.0.0.1"))
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background()) //nolint:errcheck

	resp, err := http.Get(srv.URL() + control.ShutdownPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestServerShutdownNoToken verifies an unconfigured token disables the check.
func TestServerShutdownNoToken(t *testing.T) {
	srv := New(nil, WithListenHost("127.0.0.1"))
	require.NoError(t, srv.Start())

	resp, err := http.Post(srv.URL()+control.ShutdownPath, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	waitDone(t, srv)
}

// TestServerHookOnce verifies the shutdown hook cannot fire twice even if
// two valid shutdown requests race.
func TestServerHookOnce(t *testing.T) {
	var hookCalls int
	var mu sync.Mutex

	srv := New(nil,
		WithListenHost("127.0.0.1"),
		WithToken("secret"),
		WithOnShutdown(func() {
			mu.Lock()
			hookCalls++
			mu.Unlock()
		}),
	)
	require.NoError(t, srv.Start())

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, control.ShutdownPath+"?token=secret", nil)
		w := httptest.NewRecorder()
		srv.handleShutdown(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	waitDone(t, srv)
	mu.Lock()
	assert.Equal(t, 1, hookCalls)
	mu.Unlock()
}

// TestServerAdvertiseHost verifies advertised-address resolution.
func TestServerAdvertiseHost(t *testing.T) {
	// Explicit advertise host wins over the listen host
	srv := New(nil, WithListenHost("127.0.0.1"), WithAdvertiseHost("worker-7.internal"))
	require.NoError(t, srv.Start())
	assert.Equal(t, "worker-7.internal", srv.Host())
	assert.Equal(t, "http://worker-7.internal:"+strconv.Itoa(srv.Port()), srv.URL())
	require.NoError(t, srv.Stop(context.Background()))

	// Wildcard listen host falls back to something dialable
	srv = New(nil)
	require.NoError(t, srv.Start())
	assert.NotEmpty(t, srv.Host())
	assert.NotEqual(t, "0.0.0.0", srv.Host())
	require.NoError(t, srv.Stop(context.Background()))
}

package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/partfleet/internal/control"
	"github.com/dreamware/partfleet/internal/coordinator"
	"github.com/dreamware/partfleet/internal/dataset"
)

// newCoordinator starts a loopback coordinator for worker tests.
func newCoordinator(t *testing.T, opts ...coordinator.Option) *coordinator.Server {
	t.Helper()
	opts = append([]coordinator.Option{coordinator.WithListenHost("127.0.0.1")}, opts...)
	c := coordinator.NewServer(opts...)
	require.NoError(t, c.Start())
	t.Cleanup(func() {
		_ = c.Stop(context.Background())
	})
	return c
}

// waitUntil polls cond until it holds or the timeout expires.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// runOutcome carries Run's return values out of its goroutine.
type runOutcome struct {
	value []byte
	err   error
}

// fastBackoff keeps registration retries snappy in tests.
func fastBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(20*time.Millisecond), 5)
}

// TestNewServer verifies construction defaults and the routed variant.
func TestNewServer(t *testing.T) {
	s := NewServer()
	assert.Nil(t, s.app)
	assert.NotNil(t, s.log)
	assert.NotNil(t, s.newBackoff)
	assert.Equal(t, 0, s.port)

	app := http.NewServeMux()
	routed := NewAppServer(app, WithPort(9999))
	assert.NotNil(t, routed.app)
	assert.Equal(t, 9999, routed.port)
}

// TestRunUnconfigured verifies dispatch before Configure fails fast.
func TestRunUnconfigured(t *testing.T) {
	s := NewServer()
	_, err := s.Run(context.Background(), 0, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// TestWorkerLifecycle walks one partition through bind, init, register,
// serve, and a coordinator-commanded shutdown.
func TestWorkerLifecycle(t *testing.T) {
	coord := newCoordinator(t,
		coordinator.WithExpectedPartitions(1),
		coordinator.WithToken("sekret"))

	var (
		mu        sync.Mutex
		bound     control.HostPort
		records   []string
		shutdowns []int
	)
	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithInit(func(ctx context.Context, info Info) error {
			mu.Lock()
			defer mu.Unlock()
			bound = control.HostPort{Host: info.Host, Port: info.Port}
			records = dataset.CollectStrings(info.Records)
			return nil
		}),
		WithOnShutdown(func(partition int) {
			mu.Lock()
			defer mu.Unlock()
			shutdowns = append(shutdowns, partition)
		}),
		WithResult(func(partition int) []byte {
			return []byte(fmt.Sprintf("done-%d", partition))
		}),
	)
	tmpl.Configure(coord.URL(), "sekret")

	ds := dataset.FromStrings([]string{"a", "b"})
	done := make(chan runOutcome, 1)
	go func() {
		v, err := tmpl.Run(context.Background(), 0, ds.Partition(0))
		done <- runOutcome{v, err}
	}()

	waitUntil(t, 3*time.Second, coord.Full, "worker never registered")

	// The registry carries the address the init hook saw
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, records)
	assert.Equal(t, "127.0.0.1", bound.Host)
	assert.NotZero(t, bound.Port)
	addr := bound
	mu.Unlock()
	hosts := coord.Hosts()
	assert.Equal(t, addr, hosts.Hosts[0])

	require.NoError(t, coord.ShutdownAll(context.Background()))

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, []byte("done-0"), out.value)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not terminate after shutdown")
	}

	mu.Lock()
	assert.Equal(t, []int{0}, shutdowns, "the observer fires exactly once")
	mu.Unlock()
	assert.Equal(t, 0, coord.Status().CurrentPartitions)
}

// TestWorkerControlRoutes verifies the ping route answers any method and
// the routed variant serves under /app with the prefix stripped.
func TestWorkerControlRoutes(t *testing.T) {
	coord := newCoordinator(t)

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "app saw %s", r.URL.Path)
	})

	addrCh := make(chan control.HostPort, 1)
	tmpl := NewAppServer(app,
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithInit(func(ctx context.Context, info Info) error {
			addrCh <- control.HostPort{Host: info.Host, Port: info.Port}
			return nil
		}),
	)
	tmpl.Configure(coord.URL(), "")

	done := make(chan runOutcome, 1)
	go func() {
		v, err := tmpl.Run(context.Background(), 0, nil)
		done <- runOutcome{v, err}
	}()

	var addr control.HostPort
	select {
	case addr = <-addrCh:
	case <-time.After(3 * time.Second):
		t.Fatal("init hook never ran")
	}
	base := addr.URL()

	// Ping answers both methods probes use
	resp, err := http.Get(base + control.PingPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+control.PingPath, "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The app handler sees the path without the /app prefix
	resp, err = http.Get(base + control.AppPrefix + "/echo")
	require.NoError(t, err)
	body := make([]byte, 64)
	n, _ := resp.Body.Read(body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "app saw /echo", string(body[:n]))

	// Direct shutdown command ends the run
	require.NoError(t, control.PostJSON(context.Background(), base+control.ShutdownPath, nil, nil))
	select {
	case out := <-done:
		require.NoError(t, out.err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// TestWorkerInitFailureAborts verifies a failing init hook prevents
// registration and tears the bound server down.
func TestWorkerInitFailureAborts(t *testing.T) {
	coord := newCoordinator(t)

	addrCh := make(chan control.HostPort, 1)
	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithInit(func(ctx context.Context, info Info) error {
			addrCh <- control.HostPort{Host: info.Host, Port: info.Port}
			return fmt.Errorf("application refused to start")
		}),
	)
	tmpl.Configure(coord.URL(), "")

	_, err := tmpl.Run(context.Background(), 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init partition 3")
	assert.Equal(t, 0, coord.Status().CurrentPartitions, "a failed init must not register")

	// The listener is gone
	addr := <-addrCh
	_, err = http.Get(addr.URL() + control.PingPath)
	assert.Error(t, err)
}

// TestWorkerRejectedRegistrationIsFatal verifies an HTTP-level rejection
// is not retried and fails the lifecycle.
func TestWorkerRejectedRegistrationIsFatal(t *testing.T) {
	coord := newCoordinator(t, coordinator.WithToken("right"))

	tmpl := NewServer(WithHost("127.0.0.1"))
	tmpl.Configure(coord.URL(), "wrong")

	start := time.Now()
	_, err := tmpl.Run(context.Background(), 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, control.ErrForbidden)
	assert.Contains(t, err.Error(), "register partition 0")
	assert.Less(t, time.Since(start), 2*time.Second, "a rejection must not burn the retry budget")
	assert.Equal(t, 0, coord.Status().CurrentPartitions)
}

// TestWorkerRetriesFlakyRegistration verifies transient network failures
// are retried until the coordinator answers.
func TestWorkerRetriesFlakyRegistration(t *testing.T) {
	var hits int32
	flaky := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			// Drop the connection so the client sees a network error
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(flaky.Close)

	addrCh := make(chan control.HostPort, 1)
	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithInit(func(ctx context.Context, info Info) error {
			addrCh <- control.HostPort{Host: info.Host, Port: info.Port}
			return nil
		}),
	)
	tmpl.Configure(flaky.URL, "")

	done := make(chan runOutcome, 1)
	go func() {
		v, err := tmpl.Run(context.Background(), 0, nil)
		done <- runOutcome{v, err}
	}()

	addr := <-addrCh
	waitUntil(t, 3*time.Second, func() bool {
		return atomic.LoadInt32(&hits) >= 3
	}, "registration was not retried")

	require.NoError(t, control.PostJSON(context.Background(), addr.URL()+control.ShutdownPath, nil, nil))
	select {
	case out := <-done:
		require.NoError(t, out.err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

// TestWorkerUnreachableCoordinatorExhaustsRetries verifies the bounded
// backoff gives up when nothing answers.
func TestWorkerUnreachableCoordinatorExhaustsRetries(t *testing.T) {
	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 2)
		}),
	)
	// Nothing listens on port 1
	tmpl.Configure("http://127.0.0.1:1", "")

	_, err := tmpl.Run(context.Background(), 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register partition 0")
	assert.NotErrorIs(t, err, control.ErrForbidden)
}

// TestWorkerContextCancellation verifies engine teardown ends serving
// without counting as a shutdown command.
func TestWorkerContextCancellation(t *testing.T) {
	coord := newCoordinator(t, coordinator.WithExpectedPartitions(1))

	var shutdowns int32
	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithOnShutdown(func(partition int) {
			atomic.AddInt32(&shutdowns, 1)
		}),
		WithResult(func(partition int) []byte {
			return []byte("unused")
		}),
	)
	tmpl.Configure(coord.URL(), "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan runOutcome, 1)
	go func() {
		v, err := tmpl.Run(ctx, 0, nil)
		done <- runOutcome{v, err}
	}()

	waitUntil(t, 3*time.Second, coord.Full, "worker never registered")
	cancel()

	select {
	case out := <-done:
		require.ErrorIs(t, out.err, context.Canceled)
		assert.Nil(t, out.value, "cancellation yields no result")
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop on cancellation")
	}
	assert.Zero(t, atomic.LoadInt32(&shutdowns), "cancellation is not a shutdown command")
}

// TestWorkerConcurrentPartitions dispatches one template for several
// partitions at once, the way an execution engine does.
func TestWorkerConcurrentPartitions(t *testing.T) {
	const partitions = 3
	coord := newCoordinator(t,
		coordinator.WithExpectedPartitions(partitions),
		coordinator.WithToken("sekret"))

	tmpl := NewServer(
		WithHost("127.0.0.1"),
		WithRegisterBackoff(fastBackoff),
		WithResult(func(partition int) []byte {
			return []byte(fmt.Sprintf("part-%d", partition))
		}),
	)
	tmpl.Configure(coord.URL(), "sekret")

	outcomes := make([]runOutcome, partitions)
	var wg sync.WaitGroup
	for i := 0; i < partitions; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := tmpl.Run(context.Background(), i, nil)
			outcomes[i] = runOutcome{v, err}
		}()
	}

	waitUntil(t, 5*time.Second, coord.Full, "fleet never completed")
	assert.Equal(t, partitions, coord.Status().CurrentPartitions)

	require.NoError(t, coord.ShutdownAll(context.Background()))
	wg.Wait()

	for i, out := range outcomes {
		require.NoError(t, out.err, "partition %d", i)
		assert.Equal(t, fmt.Sprintf("part-%d", i), string(out.value))
	}
	assert.Equal(t, 0, coord.Status().CurrentPartitions)
}

// TestWorkerShutdownTokenEnforced verifies a worker refuses shutdown
// commands carrying the wrong token.
func TestWorkerShutdownTokenEnforced(t *testing.T) {
	coord := newCoordinator(t,
		coordinator.WithExpectedPartitions(1),
		coordinator.WithToken("sekret"))

	tmpl := NewServer(WithHost("127.0.0.1"), WithRegisterBackoff(fastBackoff))
	tmpl.Configure(coord.URL(), "sekret")

	done := make(chan runOutcome, 1)
	go func() {
		v, err := tmpl.Run(context.Background(), 0, nil)
		done <- runOutcome{v, err}
	}()

	waitUntil(t, 3*time.Second, coord.Full, "worker never registered")
	addr := coord.Hosts().Hosts[0]

	// Wrong token bounces and the worker keeps serving
	err := control.PostJSON(context.Background(),
		control.WithToken(addr.URL()+control.ShutdownPath, "wrong"), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, control.ErrForbidden)

	resp, err := http.Get(addr.URL() + control.PingPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The real token lands
	require.NoError(t, coord.ShutdownAll(context.Background()))
	select {
	case out := <-done:
		require.NoError(t, out.err)
	case <-time.After(3 * time.Second):
		t.Fatal("worker ignored the shutdown command")
	}
}

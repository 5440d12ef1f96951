// Package main implements the partfleet coordinator daemon: the
// registration and control-plane service a fleet of workers joins when
// partitions run across processes or machines.
//
// The daemon wraps internal/coordinator with environment configuration
// and signal handling; everything else (registry semantics, discovery
// routes, shutdown fan-out, metrics, liveness probing) lives in the
// library.
//
// Configuration:
//   - COORDINATOR_LISTEN: listen address (default ":8080")
//   - COORDINATOR_ADVERTISE_HOST: host reported to peers (default: derived)
//   - COORDINATOR_TOKEN: shared cluster token (empty disables auth)
//   - EXPECTED_PARTITIONS: fleet size that latches full_cluster (0 = none)
//   - COORDINATOR_LIVENESS_INTERVAL: probe interval, e.g. "10s" (empty = off)
//
// Example usage:
//
//	EXPECTED_PARTITIONS=3 \
//	COORDINATOR_TOKEN=sekret \
//	COORDINATOR_LISTEN=:8080 \
//	./coordinator
//
// The daemon exits on SIGINT/SIGTERM or on a POST to /control/shutdown
// carrying the cluster token.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/coordinator"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

func main() {
	listen := getenv("COORDINATOR_LISTEN", ":8080")
	advertise := getenv("COORDINATOR_ADVERTISE_HOST", "")
	token := getenv("COORDINATOR_TOKEN", "")
	expected := intenv("EXPECTED_PARTITIONS", 0)
	liveness := durenv("COORDINATOR_LIVENESS_INTERVAL", 0)

	host, port := splitListen(listen)

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("logger: %v", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	srv := coordinator.NewServer(
		coordinator.WithListenHost(host),
		coordinator.WithAdvertiseHost(advertise),
		coordinator.WithPort(port),
		coordinator.WithToken(token),
		coordinator.WithExpectedPartitions(expected),
		coordinator.WithLivenessInterval(liveness),
		coordinator.WithLogger(logger),
	)
	if err := srv.Start(); err != nil {
		logFatal("start coordinator: %v", err)
		return
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("signal received", zap.String("signal", sig.String()))
	case <-srv.Done():
		// Remote shutdown command, or the serve loop died
		if err := srv.Err(); err != nil {
			logFatal("serve: %v", err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("coordinator stop failed", zap.Error(err))
	}
	logger.Info("coordinator stopped")
}

// getenv retrieves an environment variable, falling back to a default
// when unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// intenv parses an integer environment variable, terminating on values
// that do not parse.
func intenv(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("env %s: %v", k, err)
		return def
	}
	return n
}

// durenv parses a duration environment variable, terminating on values
// that do not parse.
func durenv(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logFatal("env %s: %v", k, err)
		return def
	}
	return d
}

// splitListen breaks a listen address like ":8080" or "10.0.0.5:8080"
// into the host and port the server options expect.
func splitListen(listen string) (string, int) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		logFatal("env COORDINATOR_LISTEN: %v", err)
		return "", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logFatal("env COORDINATOR_LISTEN: bad port %q", portStr)
		return "", 0
	}
	return host, port
}

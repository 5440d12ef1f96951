// Package main implements a standalone partfleet worker daemon: one
// partition's worker joining an externally managed coordinator.
//
// Most deployments drive workers through the in-process orchestrator in
// internal/cluster; this daemon exists for fleets whose partitions run
// as separate processes or on separate machines. Besides the control
// routes it mounts a partition-local key-value application under the
// app prefix, so a registered fleet doubles as a sharded store:
//
//	PUT  /app/kv/{key}   store a value on this partition
//	GET  /app/kv/{key}   read it back
//	GET  /app/stats      partition counters
//
// Configuration:
//   - WORKER_PARTITION: partition index this worker serves (required)
//   - COORDINATOR_ADDR: coordinator base URL, e.g. "http://10.0.0.5:8080" (required)
//   - CLUSTER_TOKEN: shared cluster token (empty disables auth)
//   - WORKER_LISTEN_HOST: bind host (default: all interfaces)
//   - WORKER_ADVERTISE_HOST: host registered with the coordinator (default: derived)
//   - WORKER_PORT: fixed listen port (default: ephemeral)
//
// Example usage:
//
//	WORKER_PARTITION=0 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	CLUSTER_TOKEN=sekret \
//	./worker
//
// The daemon exits when the coordinator commands a shutdown, on
// SIGINT/SIGTERM, or when registration fails after its retry budget.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/dreamware/partfleet/internal/kvapp"
	"github.com/dreamware/partfleet/internal/worker"
)

// logFatal is a variable to allow mocking log.Fatalf in tests.
var logFatal = log.Fatalf

func main() {
	partition := mustIntenv("WORKER_PARTITION")
	coordURL := mustGetenv("COORDINATOR_ADDR")
	token := getenv("CLUSTER_TOKEN", "")
	listenHost := getenv("WORKER_LISTEN_HOST", "")
	advertiseHost := getenv("WORKER_ADVERTISE_HOST", "")
	port := intenv("WORKER_PORT", 0)

	logger, err := zap.NewProduction()
	if err != nil {
		logFatal("logger: %v", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	tmpl := worker.NewAppServer(kvapp.New(partition),
		worker.WithHost(listenHost),
		worker.WithAdvertiseHost(advertiseHost),
		worker.WithPort(port),
		worker.WithLogger(logger),
		worker.WithOnShutdown(func(p int) {
			logger.Info("shutdown command accepted", zap.Int("partition", p))
		}),
	)
	tmpl.Configure(coordURL, token)

	// Signals cancel the run context, which ends serving without a
	// shutdown command
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-stop
		logger.Info("signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	if _, err := tmpl.Run(ctx, partition, nil); err != nil && !errors.Is(err, context.Canceled) {
		logFatal("worker: %v", err)
		return
	}
	logger.Info("worker stopped", zap.Int("partition", partition))
}

// getenv retrieves an environment variable, falling back to a default
// when unset or empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// mustGetenv retrieves a required environment variable, terminating the
// program when it is not set.
func mustGetenv(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	logFatal("missing env %s", k)
	return ""
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

// mustIntenv parses a required integer environment variable,
// terminating when it is missing or does not parse.
func mustIntenv(k string) int {
	v := os.Getenv(k)
	if v == "" {
		logFatal("missing env %s", k)
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logFatal("env %s: %v", k, err)
		return 0
	}
	return n
}

// Package httpserver provides the embedded HTTP server used by every
// partfleet service that answers control-plane requests.
//
// # Overview
//
// Coordinators and workers both need the same serving skeleton: bind a
// listener (often on an ephemeral port), serve a handler, answer the
// token-checked remote shutdown route, and stop gracefully. This package
// owns that skeleton so the services only supply their routes.
//
// # Lifecycle
//
//	New() ──► Start() ──► serving ──► Stop() / remote shutdown
//	             │                          │
//	             └── binds listener,        └── graceful drain, then
//	                 port known before          Done() closes
//	                 Start returns
//
// Start binds the listener synchronously, so Host, Port, and URL report
// the real bound address immediately after it returns even when the
// configured port was 0. The serving loop runs in a background goroutine;
// Done and Err expose how it ended.
//
// # Remote shutdown
//
// The server installs POST /control/shutdown ahead of the caller's
// handler. A request with the right token is acknowledged with 200, the
// optional shutdown hook runs once, and the server drains in the
// background. Wrong or missing tokens get 403 and change nothing.
//
// # Address advertisement
//
// The listen host and the advertised host are separate concerns: a server
// bound to 0.0.0.0 still needs a concrete host for peers to dial. When no
// advertise host is configured the server falls back to the listen host,
// or to os.Hostname() when the listen host is a wildcard.
package httpserver

// Package main is the entry point for the tracebridge RPC server.
//
// tracebridge exposes an analysis engine to the Perfetto UI and the Python
// API over HTTP and WebSocket:
//
//	Browser / Python → tracebridge (HTTP :9001) → engine (gRPC)
//
// Configuration:
//   - Defaults for local use
//   - Optional YAML or TOML file (--config)
//   - Environment variables (12-factor)
//   - CLI flags (override everything)
//
// Usage:
//
//	# Serve on the default port against a local engine
//	./tracebridge
//
//	# Custom port and engine, development logging
//	./tracebridge --port 9100 --engine 127.0.0.1:9011 --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

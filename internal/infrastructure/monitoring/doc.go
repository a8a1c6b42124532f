/*
Package monitoring provides Prometheus metrics for the RPC front end.

# Overview

Metrics live on a private registry so several servers (and tests) can coexist
in one process. The registry is exposed through Handler on a separate
listener; the RPC port itself never serves /metrics.

# Features

- HTTP request metrics (latency, throughput, body size)
- Exchange metrics (outcome per transport, duration, chunk count and size)
- Engine call metrics (latency, error rate)
- WebSocket connection, message and rejected-handshake metrics
- Sequence anomaly counter for the legacy HTTP tunnel

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	mux := exchange.NewMux(logger, metrics)

	go http.ListenAndServe("127.0.0.1:9102", metrics.Handler())
*/
package monitoring

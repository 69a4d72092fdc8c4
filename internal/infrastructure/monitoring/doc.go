/*
Package monitoring provides Prometheus metrics for the application manager.

# Overview

Collectors cover HTTP requests, contract operations by result code, gRPC
calls, observer activity, the process table by state and WebSocket streams.
Metrics implements observer.Metrics and process.Metrics so the hub and the
registry report into it directly.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	router.Use(monitoring.Middleware(metrics))
	svc = monitoring.Instrument(svc, metrics)

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring

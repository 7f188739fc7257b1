/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the session
cloud, tracking HTTP requests, session and app lifecycles, webhook
deliveries, display arbitration, and websocket traffic.

# Features

- HTTP request metrics (latency, throughput)
- Session metrics (live count, creates, resumes)
- App lifecycle metrics (running count, start/stop/resurrection outcomes, run durations)
- Webhook delivery metrics (outcomes, latency)
- Display arbitration metrics (per view and outcome)
- Subscription update metrics
- WebSocket connection and message metrics per peer kind
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record custom metrics
	metrics.SetSessionsActive(12)
	metrics.RecordAppStart("success")
	metrics.RecordWebhook("session_request", "success", elapsed)

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring

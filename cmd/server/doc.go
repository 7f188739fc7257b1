// Package main is the entry point for the smart glasses session cloud.
//
// The cloud sits between glasses devices and third-party app servers,
// holding one session per user and relaying messages between the two
// sides over websockets.
//
// Architecture:
//
//	Glasses device → /glasses-ws → Session → App lifecycle, display, subscriptions
//	App server     → /app-ws     → Session → Event routing, display requests
//
// The server provides:
//   - Device and app websocket endpoints
//   - App lifecycle with webhooks and reconnect grace
//   - Display arbitration between competing apps
//   - Read-only REST surface for session inspection
//   - Prometheus metrics and rate limiting
//
// Configuration:
//   - Environment variables (12-factor)
//   - Defaults for development
//
// Usage:
//
//	# Defaults bind 0.0.0.0:8002
//	./server
//
//	# Override through the environment
//	SERVER_PORT=9000 AUTH_JWT_SECRET=s3cret ./server
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

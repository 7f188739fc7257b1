// Package server assembles the whole session cloud behind one HTTP listener.
//
// This package orchestrates all components:
//   - HTTP routing with Gin framework
//   - Middleware stack (recovery, metrics, CORS, rate limiting)
//   - App catalog seeding from on-disk manifests
//   - Device token verification (JWT or insecure dev mode)
//   - Session registry with webhooks and analytics wired in
//
// Server Lifecycle:
//  1. Load configuration from environment
//  2. Initialize logger (production or development)
//  3. Seed the app catalog from the manifest directory
//  4. Build the token verifier from AUTH_JWT_SECRET
//  5. Wire webhooks, analytics, and the session registry
//  6. Setup HTTP routes and middleware
//  7. Start HTTP server
//  8. Graceful shutdown on signal
//
// Routes:
//   - GET /            service info
//   - GET /health      liveness and session count
//   - GET /metrics     Prometheus metrics
//   - GET /api/sessions           active session list
//   - GET /api/sessions/:userId   per-session debug view
//   - GET /glasses-ws  device websocket
//   - GET /app-ws      app websocket
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server

// Package http provides the REST surface of the session cloud.
//
// Everything here is read-only: devices and apps mutate state over
// their websockets, and this package exposes what the cloud currently
// believes for operators and debugging.
//
// Endpoints:
//   - Service info: / and /health
//   - Sessions: /api/sessions, /api/sessions/:userId
//
// Example Usage:
//
//	handlers := http.NewHandlers(registry, metrics)
//	router.GET("/health", handlers.Health)
//	router.GET("/api/sessions", handlers.ListSessions)
//	router.GET("/api/sessions/:userId", handlers.GetSession)
package http

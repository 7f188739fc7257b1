// Package ws terminates the two WebSocket surfaces of the cloud.
//
// Devices connect to /glasses-ws, authenticate with an account token,
// and get bound to their user's session. Apps connect to /app-ws after
// a session webhook woke them, authenticate with their API key, and
// get attached to the session that asked for them.
//
// Handshakes (first frame, within the init deadline):
//   - connection_init: device token, model, reported capabilities
//   - app_connection_init: package name, session id, API key
//
// After the ack every inbound frame is decoded once and handed to the
// session, which owns all routing. The handlers own only transport
// concerns: upgrade, deadlines, the write lock, ping/pong plumbing,
// and disconnect notification.
//
// Example Usage:
//
//	handler := ws.NewHandler(cfg, registry, verifier, authenticator, log, metrics)
//	router.GET("/glasses-ws", handler.HandleDevice)
//	router.GET("/app-ws", handler.HandleApp)
package ws

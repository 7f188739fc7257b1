// Package session owns the per-user root aggregate and its registry.
//
// A Session is created when a device first authenticates and holds
// everything that belongs to that user: the device socket, the app
// lifecycle manager, the subscription aggregator, the display arbiter,
// and the stream fanout. Inbound device and app frames are routed
// through the Session, which delegates to the owning component;
// nothing below it is reachable from outside.
//
// The device link is kept honest with websocket pings: a fixed number
// of unanswered pings force-closes the socket, which is treated as a
// disconnect, not a crash. A disconnected session survives for a grace
// period so the device can resume with its apps intact; when the
// period lapses the session disposes itself and leaves the registry.
//
// Disposal is idempotent and ordered: the disposed flag is set before
// anything else so late callbacks no-op, then timers are cancelled,
// apps stopped, the arbiter shut down, and the device socket closed.
//
// The Registry is the only way sessions come to exist. It guarantees
// at most one Session per user id: reconnecting attaches the new
// socket to the existing Session rather than creating a second one.
package session

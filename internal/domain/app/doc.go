// Package app runs the lifecycle state machine for every app a
// session addresses.
//
// One Manager per session owns one controller per package. A start
// wakes the app's server with a session webhook and waits for its
// WebSocket to authenticate; an unexpected disconnect opens a short
// grace window during which the app may resume with its subscriptions
// intact. When the window closes the app is either resurrected with a
// fresh stop/start cycle (device still connected) or parked dormant so
// another node can claim it (device gone, or ownership explicitly
// released).
//
// States:
//
//	connecting -> running -> grace_period -> resurrecting -> running
//	                      \> grace_period -> dormant -> resurrecting
//	any -> stopping -> stopped
//
// Start is single-flight per package: concurrent callers share one
// webhook and one outcome. Side effects (device broadcast, display
// overlay, durable running record, analytics) fire outside the
// manager's lock; collaborators may call back into the Manager from
// their own goroutines.
package app

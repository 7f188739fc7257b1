// Package display arbitrates which app's content is rendered on the
// single glasses display surface.
//
// Requests flow through a fixed rule order:
//
//   - The reserved dashboard package (and the dashboard view) bypass
//     arbitration entirely and render immediately.
//   - While any app is booting, a boot overlay owns the main view and
//     other requests queue, latest per app, until the overlay ends.
//   - The foreground (standard) app's explicit requests always render
//     and release the background lock.
//   - A background app renders only through the background lock. The
//     lock is granted when free and the foreground app is not actively
//     showing anything, and is lost on inactivity, nominal expiry, app
//     stop, or an explicit foreground request.
//   - Bursts from one app are throttled: within the throttle interval
//     only the most recent request is kept, flushed when the interval
//     elapses. Force requests and the dashboard are exempt.
//   - Timed displays self-expire; expiry re-evaluates what to show
//     next: the oldest valid pending request, then the lock holder's
//     display, then the foreground app's display, then blank.
//   - Displays without an explicit duration are single-shot: they stay
//     up while uncontended but are not restored once a short lifetime
//     has passed.
//
// The arbiter calls its Sender while holding its own lock; senders
// must not call back into the arbiter.
package display

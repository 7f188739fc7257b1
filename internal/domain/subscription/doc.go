// Package subscription tracks which data streams each app in a
// session wants.
//
// The Aggregator owns the per-app subscription sets. Updates replace
// an app's whole set: tokens are parsed, bare transcription streams
// take the session's default locale, and streams the app lacks
// permission for are dropped without failing the update. Every change
// lands in a bounded per-app journal for the debug API.
//
// Queries answer the questions the rest of the session asks: which
// apps should receive an incoming stream, whether anything still needs
// the microphone, and which language streams transcribers must
// produce. A change callback lets the session flip the device
// microphone the moment the answer changes.
package subscription

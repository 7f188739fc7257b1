package app

import (
	"errors"
	"fmt"
)

// State is one app controller's lifecycle state.
type State string

const (
	StateConnecting   State = "connecting"
	StateRunning      State = "running"
	StateGracePeriod  State = "grace_period"
	StateResurrecting State = "resurrecting"
	StateDormant      State = "dormant"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
)

var (
	// ErrNotStarted rejects operations on an app that has no live
	// lifecycle in this session.
	ErrNotStarted = errors.New("app not started")
	// ErrNotConnected means the app is alive but its socket is not.
	ErrNotConnected = errors.New("app not connected")
	// ErrStopping rejects a start while a stop is still in flight.
	ErrStopping = errors.New("app is stopping")
	// ErrSessionClosed rejects new starts after session disposal.
	ErrSessionClosed = errors.New("session closed")
)

// Start failure stages, carried on StartError so callers can tell a
// dead app server from a slow one.
const (
	StageCatalog = "catalog"
	StageWebhook = "webhook"
	StageTimeout = "timeout"
	StageAborted = "aborted"
)

// Canonical stop reasons. The reason reaches the app server in the
// app_stopped frame and labels the stop counter, so it must stay a
// small fixed vocabulary rather than free-form text.
const (
	StopReasonUser         = "user_request"
	StopReasonReplaced     = "replaced"
	StopReasonTimeout      = "session_timeout"
	StopReasonShutdown     = "server_shutdown"
	StopReasonResurrection = "resurrection"
)

// StartError reports a failed start with the stage that broke.
type StartError struct {
	PackageName string
	Stage       string
	Err         error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s failed at %s: %v", e.PackageName, e.Stage, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

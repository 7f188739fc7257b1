package protocol

import (
	"time"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/hardware"
)

// MessageType discriminates wire frames.
type MessageType string

// Device-to-cloud message types.
const (
	TypeConnectionInit             MessageType = "connection_init"
	TypeStartApp                   MessageType = "start_app"
	TypeStopApp                    MessageType = "stop_app"
	TypeButtonPress                MessageType = "button_press"
	TypeHeadPosition               MessageType = "head_position"
	TypeGlassesBatteryUpdate       MessageType = "glasses_battery_update"
	TypePhoneBatteryUpdate         MessageType = "phone_battery_update"
	TypeVad                        MessageType = "vad"
	TypeLocationUpdate             MessageType = "location_update"
	TypeCalendarEvent              MessageType = "calendar_event"
	TypePhoneNotification          MessageType = "phone_notification"
	TypePhoneNotificationDismissed MessageType = "phone_notification_dismissed"
)

// Cloud-to-device message types.
const (
	TypeConnectionAck         MessageType = "connection_ack"
	TypeConnectionError       MessageType = "connection_error"
	TypeAppStateChange        MessageType = "app_state_change"
	TypeDisplayEvent          MessageType = "display_event"
	TypeMicrophoneStateChange MessageType = "microphone_state_change"
)

// App-to-cloud message types.
const (
	TypeAppConnectionInit MessageType = "app_connection_init"
	TypeDisplayRequest    MessageType = "display_request"
	TypeOwnershipRelease  MessageType = "ownership_release"
)

// Cloud-to-app message types.
const (
	TypeAppConnectionAck   MessageType = "app_connection_ack"
	TypeAppConnectionError MessageType = "app_connection_error"
	TypeDataStream         MessageType = "data_stream"
	TypeAppStopped         MessageType = "app_stopped"
)

// Shared message types.
const (
	TypeSubscriptionUpdate MessageType = "subscription_update"
	TypeSettingsUpdate     MessageType = "settings_update"
	TypePing               MessageType = "ping"
	TypePong               MessageType = "pong"
)

// ErrorCode classifies connection-level failures surfaced to peers.
type ErrorCode string

const (
	// ErrCodeInvalidAPIKey means an app presented a key that does not
	// verify against its registered hash.
	ErrCodeInvalidAPIKey ErrorCode = "INVALID_API_KEY"
	// ErrCodeAppNotStarted means an app tried to register against a
	// session that is not expecting it.
	ErrCodeAppNotStarted ErrorCode = "APP_NOT_STARTED"
	// ErrCodeInvalidToken means a device handshake failed verification.
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	// ErrCodeMalformedMessage means a peer broke handshake protocol,
	// either with undecodable bytes or an out-of-order frame.
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	// ErrCodeSessionNotFound means an app named a session id the cloud
	// does not know, usually because the session timed out first.
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND"
	// ErrCodeInternalError is an unexpected handler failure.
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// BaseMessage carries the fields present on every frame.
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// Base builds a stamped BaseMessage of the given type.
func Base(t MessageType) BaseMessage {
	return BaseMessage{Type: t, Timestamp: time.Now().UTC()}
}

// MessageType returns the frame's wire type. Promoted through
// embedding so any outbound frame can be classified.
func (b BaseMessage) MessageType() MessageType { return b.Type }

// ============================================================================
// Device handshake
// ============================================================================

// ConnectionInit is the first frame on a device socket.
type ConnectionInit struct {
	BaseMessage
	Token        string                 `json:"token"`
	DeviceModel  string                 `json:"deviceModel,omitempty"`
	Capabilities *hardware.Capabilities `json:"capabilities,omitempty"`
}

// ConnectionAck confirms a device session with the current snapshot.
type ConnectionAck struct {
	BaseMessage
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Resumed   bool            `json:"resumed"`
	Session   SessionSnapshot `json:"session"`
}

// ConnectionError rejects a handshake or reports a fatal session error.
type ConnectionError struct {
	BaseMessage
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ============================================================================
// Snapshots
// ============================================================================

// AppSnapshot is one app's externally visible lifecycle state.
type AppSnapshot struct {
	PackageName string `json:"packageName"`
	Name        string `json:"name,omitempty"`
	Kind        string `json:"kind,omitempty"`
	State       string `json:"state"`
	Foreground  bool   `json:"foreground,omitempty"`
	// Compatible reflects the app's hardware requirements checked
	// against the connected device; missing required hardware is
	// listed so the client can explain why.
	Compatible      bool     `json:"compatible"`
	MissingHardware []string `json:"missingHardware,omitempty"`
}

// SessionSnapshot is the device-facing view of a whole session.
type SessionSnapshot struct {
	SessionID         string        `json:"sessionId"`
	UserID            string        `json:"userId"`
	StartedAt         time.Time     `json:"startedAt"`
	Apps              []AppSnapshot `json:"apps"`
	ForegroundPackage string        `json:"foregroundPackage,omitempty"`
	MicrophoneOn      bool          `json:"microphoneOn"`
	Languages         []string      `json:"languages,omitempty"`
}

// AppStateChange pushes a fresh snapshot after any lifecycle change.
type AppStateChange struct {
	BaseMessage
	Session SessionSnapshot `json:"session"`
}

// ============================================================================
// Device requests and events
// ============================================================================

// StartApp asks the cloud to start an app for this session.
type StartApp struct {
	BaseMessage
	PackageName string `json:"packageName"`
}

// StopApp asks the cloud to stop an app.
type StopApp struct {
	BaseMessage
	PackageName string `json:"packageName"`
}

// ButtonPress is a hardware button event.
type ButtonPress struct {
	BaseMessage
	ButtonID  string `json:"buttonId"`
	PressType string `json:"pressType"` // "short" or "long"
}

// HeadPosition is a head gesture event.
type HeadPosition struct {
	BaseMessage
	Position string `json:"position"` // "up" or "down"
}

// GlassesBatteryUpdate reports glasses battery state.
type GlassesBatteryUpdate struct {
	BaseMessage
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// PhoneBatteryUpdate reports companion phone battery state.
type PhoneBatteryUpdate struct {
	BaseMessage
	Level    int  `json:"level"`
	Charging bool `json:"charging"`
}

// Vad reports voice activity detection flips.
type Vad struct {
	BaseMessage
	Status bool `json:"status"`
}

// LocationUpdate reports device position.
type LocationUpdate struct {
	BaseMessage
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// CalendarEvent relays an upcoming phone calendar entry.
type CalendarEvent struct {
	BaseMessage
	EventID  string    `json:"eventId"`
	Title    string    `json:"title"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt,omitempty"`
}

// PhoneNotification relays a phone notification.
type PhoneNotification struct {
	BaseMessage
	NotificationID string `json:"notificationId"`
	App            string `json:"app,omitempty"`
	Title          string `json:"title,omitempty"`
	Content        string `json:"content,omitempty"`
}

// PhoneNotificationDismissed relays a notification dismissal.
type PhoneNotificationDismissed struct {
	BaseMessage
	NotificationID string `json:"notificationId"`
}

// MicrophoneStateChange tells the device to start or stop capturing
// audio based on whether any running app still needs it.
type MicrophoneStateChange struct {
	BaseMessage
	Enabled bool `json:"enabled"`
}

// SettingsUpdate broadcasts user settings to a peer.
type SettingsUpdate struct {
	BaseMessage
	Settings map[string]any `json:"settings"`
}

// ============================================================================
// App handshake and lifecycle
// ============================================================================

// AppConnectionInit is the first frame an app server sends after being
// woken by a session webhook.
type AppConnectionInit struct {
	BaseMessage
	PackageName string `json:"packageName"`
	SessionID   string `json:"sessionId"`
	APIKey      string `json:"apiKey"`
}

// AppConnectionAck confirms an app registration with the user's
// settings and the device's capabilities.
type AppConnectionAck struct {
	BaseMessage
	Settings     map[string]any         `json:"settings,omitempty"`
	Capabilities *hardware.Capabilities `json:"capabilities,omitempty"`
}

// AppConnectionError rejects an app registration.
type AppConnectionError struct {
	BaseMessage
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// AppStopped tells an app its session ended.
type AppStopped struct {
	BaseMessage
	Reason string `json:"reason"`
}

// OwnershipRelease announces that an app's server intends to drop or
// hand off its live connection; the next disconnect parks the app
// dormant instead of resurrecting it.
type OwnershipRelease struct {
	BaseMessage
	PackageName string `json:"packageName,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ============================================================================
// Subscriptions and data
// ============================================================================

// SubscriptionUpdate replaces an app's subscription set. On the device
// path PackageName says which app the device is relaying for; on the
// app path it is implied by the authenticated connection.
type SubscriptionUpdate struct {
	BaseMessage
	PackageName   string              `json:"packageName,omitempty"`
	Subscriptions []SubscriptionEntry `json:"subscriptions"`
}

// DataStream delivers one subscribed device event to an app.
type DataStream struct {
	BaseMessage
	StreamType string `json:"streamType"`
	Payload    any    `json:"data"`
}

// ============================================================================
// Display
// ============================================================================

// ViewType names a display surface on the glasses.
type ViewType string

const (
	ViewMain      ViewType = "main"
	ViewDashboard ViewType = "dashboard"
)

// DisplayRequest asks for display time. PackageName is filled
// server-side from the authenticated connection.
type DisplayRequest struct {
	BaseMessage
	PackageName  string   `json:"packageName,omitempty"`
	View         ViewType `json:"view"`
	Layout       Layout   `json:"layout"`
	DurationMs   int64    `json:"durationMs,omitempty"`
	ForceDisplay bool     `json:"forceDisplay,omitempty"`
}

// DisplayEvent is the arbitrated display content sent to the device.
type DisplayEvent struct {
	BaseMessage
	View        ViewType `json:"view"`
	PackageName string   `json:"packageName,omitempty"`
	Layout      Layout   `json:"layout"`
	DurationMs  int64    `json:"durationMs,omitempty"`
}

// Ping is a liveness probe; Pong answers it.
type Ping struct {
	BaseMessage
}

// Pong answers a Ping.
type Pong struct {
	BaseMessage
}

// Package protocol defines the websocket wire protocol between devices,
// third-party apps, and the session cloud.
//
// Every frame is a JSON object with a "type" discriminator. Frames are
// decoded in two steps: DecodeEnvelope reads just the type, then the
// handler decodes the full typed message from the retained raw bytes.
//
// Message Types (Device → Cloud):
//   - connection_init: Authenticate and open a session
//   - start_app / stop_app: App lifecycle requests
//   - subscription_update: Relayed subscription changes for an app
//   - button_press, head_position, vad, location_update, calendar_event,
//     phone_notification, glasses_battery_update, phone_battery_update:
//     Hardware and phone events fanned out to subscribed apps
//
// Message Types (Cloud → Device):
//   - connection_ack / connection_error: Session handshake results
//   - app_state_change: Running app snapshot updates
//   - display_event: Arbitrated display content
//   - microphone_state_change: Audio capture on/off hint
//   - settings_update: User settings broadcast
//
// Message Types (App → Cloud):
//   - app_connection_init: Authenticate against a session
//   - subscription_update: Replace the app's subscription set
//   - display_request: Ask for glasses display time
//   - ownership_release: Hand off the app's live connection
//
// Message Types (Cloud → App):
//   - app_connection_ack / app_connection_error: Handshake results
//   - data_stream: Subscribed device data
//   - app_stopped: Lifecycle termination notice
//   - settings_update: User settings broadcast
//
// Stream tokens identify what apps subscribe to. Plain types are bare
// identifiers ("button_press"), language streams carry a language tag
// ("transcription:en-US", "translation:es-ES-to-en-US"), and auxiliary
// parameters append as a query string ("location_update?rate=high").
package protocol

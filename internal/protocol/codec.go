package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// api is the sonic configuration used for all wire traffic. ConfigStd
// keeps encoding/json semantics (sorted keys, escaped HTML) so payloads
// stay byte-stable across SDK implementations.
var api = sonic.ConfigStd

// Marshal encodes a message for the wire.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes wire bytes into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Envelope carries a frame far enough to learn its type. Raw retains
// the original bytes for the second, fully typed decode.
type Envelope struct {
	Type MessageType `json:"type"`
	Raw  []byte      `json:"-"`
}

// DecodeEnvelope reads the type discriminator from a frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame missing type")
	}
	env.Raw = data
	return &env, nil
}

// Decode unmarshals the full typed message behind the envelope.
func (e *Envelope) Decode(v any) error {
	if err := Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("malformed %s frame: %w", e.Type, err)
	}
	return nil
}

// Message decodes the envelope into the concrete struct for its type.
// Only inbound message types are mapped; anything else is an error the
// caller can log and skip.
func (e *Envelope) Message() (any, error) {
	var v any
	switch e.Type {
	case TypeConnectionInit:
		v = &ConnectionInit{}
	case TypeStartApp:
		v = &StartApp{}
	case TypeStopApp:
		v = &StopApp{}
	case TypeButtonPress:
		v = &ButtonPress{}
	case TypeHeadPosition:
		v = &HeadPosition{}
	case TypeGlassesBatteryUpdate:
		v = &GlassesBatteryUpdate{}
	case TypePhoneBatteryUpdate:
		v = &PhoneBatteryUpdate{}
	case TypeVad:
		v = &Vad{}
	case TypeLocationUpdate:
		v = &LocationUpdate{}
	case TypeCalendarEvent:
		v = &CalendarEvent{}
	case TypePhoneNotification:
		v = &PhoneNotification{}
	case TypePhoneNotificationDismissed:
		v = &PhoneNotificationDismissed{}
	case TypeAppConnectionInit:
		v = &AppConnectionInit{}
	case TypeDisplayRequest:
		v = &DisplayRequest{}
	case TypeOwnershipRelease:
		v = &OwnershipRelease{}
	case TypeSubscriptionUpdate:
		v = &SubscriptionUpdate{}
	case TypeSettingsUpdate:
		v = &SettingsUpdate{}
	case TypePing:
		v = &Ping{}
	case TypePong:
		v = &Pong{}
	default:
		return nil, fmt.Errorf("unsupported message type %q", e.Type)
	}
	if err := e.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

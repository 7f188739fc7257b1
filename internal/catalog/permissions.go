package catalog

import (
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// RequiredPermission returns the permission a subscription to the
// given stream needs. The second result is false for unrestricted
// streams (button presses, head position, battery levels).
func RequiredPermission(s protocol.Stream) (Permission, bool) {
	switch s.Type {
	case protocol.StreamAudioChunk,
		protocol.StreamTranscription,
		protocol.StreamTranslation,
		protocol.StreamVad:
		return PermissionMicrophone, true
	case protocol.StreamLocation:
		return PermissionLocation, true
	case protocol.StreamCalendar:
		return PermissionCalendar, true
	case protocol.StreamPhoneNotification,
		protocol.StreamPhoneNotificationDismissed:
		return PermissionNotifications, true
	case protocol.StreamAll, protocol.StreamWildcard:
		// Subscribing to everything needs blanket access.
		return PermissionAll, true
	}
	return "", false
}

// Permitted reports whether the app may subscribe to the stream.
func Permitted(app *App, s protocol.Stream) bool {
	p, restricted := RequiredPermission(s)
	if !restricted {
		return true
	}
	return app.HasPermission(p)
}

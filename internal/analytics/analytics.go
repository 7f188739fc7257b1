// Package analytics records product events (session starts, app
// lifecycle, display activity) without blocking the paths that emit
// them.
package analytics

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
)

// Event is one analytics datapoint.
type Event struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	UserID    string         `json:"userId"`
	Props     map[string]any `json:"props,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Tracker receives analytics events. Implementations must not block;
// callers fire events from lifecycle hot paths.
type Tracker interface {
	Track(name, userID string, props map[string]any)
}

// ZapTracker writes events to the structured log, one line per event.
// Downstream log shippers turn these into product metrics.
type ZapTracker struct {
	log *logging.Logger
}

// NewZap creates a tracker writing to the given logger.
func NewZap(log *logging.Logger) *ZapTracker {
	return &ZapTracker{log: log.Named("analytics")}
}

// Track logs the event with a fresh event id.
func (t *ZapTracker) Track(name, userID string, props map[string]any) {
	fields := []zap.Field{
		zap.String("eventId", uuid.NewString()),
		zap.String("event", name),
		logging.User(userID),
	}
	if len(props) > 0 {
		fields = append(fields, zap.Any("props", props))
	}
	t.log.Info("analytics event", fields...)
}

// Noop drops all events.
type Noop struct{}

// Track does nothing.
func (Noop) Track(string, string, map[string]any) {}

package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
)

func newObservedTracker() (*ZapTracker, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return NewZap(&logging.Logger{Logger: zap.New(core)}), logs
}

func TestZapTrackerEmitsEvent(t *testing.T) {
	tracker, logs := newObservedTracker()

	tracker.Track("app_started", "alice@example.com", map[string]any{
		"packageName": "com.example.clock",
	})

	entries := logs.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "analytics event", entry.Message)
	assert.Equal(t, "analytics", entry.LoggerName)

	fields := entry.ContextMap()
	assert.Equal(t, "app_started", fields["event"])
	assert.Equal(t, "alice@example.com", fields["userId"])
	assert.NotEmpty(t, fields["eventId"])

	props, ok := fields["props"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "com.example.clock", props["packageName"])
}

func TestZapTrackerOmitsEmptyProps(t *testing.T) {
	tracker, logs := newObservedTracker()

	tracker.Track("session_started", "alice@example.com", nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].ContextMap(), "props")
}

func TestZapTrackerEventIDsAreUnique(t *testing.T) {
	tracker, logs := newObservedTracker()

	tracker.Track("ping", "alice@example.com", nil)
	tracker.Track("ping", "alice@example.com", nil)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotEqual(t, entries[0].ContextMap()["eventId"], entries[1].ContextMap()["eventId"])
}

func TestNoopTracker(t *testing.T) {
	assert.NotPanics(t, func() {
		Noop{}.Track("anything", "anyone", map[string]any{"k": "v"})
	})
}

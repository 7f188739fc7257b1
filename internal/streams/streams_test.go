package streams

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/subscription"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

const (
	captionsPkg = "com.example.captions"
	navPkg      = "com.example.navigate"
)

// testAggregator builds a real aggregator with permissive catalog
// entries so tracker queries run against the actual subscriber index.
func testAggregator(t *testing.T) *subscription.Aggregator {
	t.Helper()
	store := catalog.NewMemoryStore()
	for _, pkg := range []string{captionsPkg, navPkg} {
		err := store.Save(context.Background(), &catalog.App{
			PackageName: pkg,
			Name:        pkg,
			Type:        catalog.AppBackground,
			PublicURL:   "https://" + pkg,
			Permissions: []catalog.Permission{catalog.PermissionAll},
		})
		require.NoError(t, err)
	}
	return subscription.NewAggregator(
		config.SubscriptionConfig{DefaultLocale: "en-US", HistoryLimit: 8},
		store, logging.NewNop(), nil)
}

func apply(t *testing.T, agg *subscription.Aggregator, pkg string, tokens ...string) {
	t.Helper()
	entries := make([]protocol.SubscriptionEntry, len(tokens))
	for i, tok := range tokens {
		entries[i] = protocol.SubscriptionEntry{Stream: tok}
	}
	_, err := agg.Apply(context.Background(), pkg, entries)
	require.NoError(t, err)
}

type failingConsumer struct {
	calls int
}

func (c *failingConsumer) Name() string { return "failing" }

func (c *failingConsumer) OnSubscriptionChange(context.Context, subscription.Summary) error {
	c.calls++
	return errors.New("pipeline down")
}

type countingConsumer struct {
	calls int
	last  subscription.Summary
}

func (c *countingConsumer) Name() string { return "counting" }

func (c *countingConsumer) OnSubscriptionChange(_ context.Context, sum subscription.Summary) error {
	c.calls++
	c.last = sum
	return nil
}

func TestPublishReachesEveryConsumer(t *testing.T) {
	first := &countingConsumer{}
	second := &countingConsumer{}
	f := NewFanout(logging.NewNop(), first, second)

	f.Publish(context.Background(), subscription.Summary{MicrophoneNeeded: true})

	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.True(t, second.last.MicrophoneNeeded)
}

func TestPublishSurvivesConsumerError(t *testing.T) {
	broken := &failingConsumer{}
	after := &countingConsumer{}
	f := NewFanout(logging.NewNop(), broken, after)

	f.Publish(context.Background(), subscription.Summary{})

	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, after.calls, "a broken consumer must not block the rest")
}

func TestRegisterAddsConsumer(t *testing.T) {
	f := NewFanout(logging.NewNop())
	c := &countingConsumer{}
	f.Register(c)

	f.Publish(context.Background(), subscription.Summary{})

	assert.Equal(t, 1, c.calls)
}

func TestAudioTrackerFollowsCaptureState(t *testing.T) {
	tr := NewAudioTracker(logging.NewNop())

	require.NoError(t, tr.OnSubscriptionChange(context.Background(), subscription.Summary{
		MicrophoneNeeded: true,
		AudioApps:        []string{captionsPkg},
	}))
	assert.True(t, tr.Capturing())
	assert.Equal(t, []string{captionsPkg}, tr.Apps())

	require.NoError(t, tr.OnSubscriptionChange(context.Background(), subscription.Summary{}))
	assert.False(t, tr.Capturing())
	assert.Empty(t, tr.Apps())
}

func TestTranscriptionTrackerFiltersLanguages(t *testing.T) {
	tr := NewTranscriptionTracker(logging.NewNop())

	require.NoError(t, tr.OnSubscriptionChange(context.Background(), subscription.Summary{
		TranscriptionApps: []string{captionsPkg},
		Languages: []string{
			"transcription:en-US",
			"transcription:fr-FR",
			"translation:es-ES-to-en-US",
		},
	}))

	assert.Equal(t, []string{"transcription:en-US", "transcription:fr-FR"}, tr.Languages())
	assert.Equal(t, []string{captionsPkg}, tr.Apps())
}

func TestTranslationTrackerFiltersPairs(t *testing.T) {
	tr := NewTranslationTracker(logging.NewNop())

	require.NoError(t, tr.OnSubscriptionChange(context.Background(), subscription.Summary{
		Languages: []string{
			"transcription:en-US",
			"translation:es-ES-to-en-US",
		},
	}))

	assert.Equal(t, []string{"translation:es-ES-to-en-US"}, tr.Pairs())
}

func TestLocationTrackerQueriesAggregator(t *testing.T) {
	agg := testAggregator(t)
	tr := NewLocationTracker(logging.NewNop(), agg)

	apply(t, agg, navPkg, "location_update?rate=high")
	require.NoError(t, tr.OnSubscriptionChange(context.Background(), agg.Summary()))
	assert.Equal(t, []string{navPkg}, tr.Watchers())

	agg.Clear(navPkg)
	require.NoError(t, tr.OnSubscriptionChange(context.Background(), agg.Summary()))
	assert.Empty(t, tr.Watchers())
}

func TestCalendarTrackerQueriesAggregator(t *testing.T) {
	agg := testAggregator(t)
	tr := NewCalendarTracker(logging.NewNop(), agg)

	apply(t, agg, captionsPkg, "calendar_event")
	require.NoError(t, tr.OnSubscriptionChange(context.Background(), agg.Summary()))
	assert.Equal(t, []string{captionsPkg}, tr.Watchers())
}

func TestDefaultConsumersWiredThroughAggregator(t *testing.T) {
	agg := testAggregator(t)
	consumers := DefaultConsumers(logging.NewNop(), agg)
	require.Len(t, consumers, 5)

	f := NewFanout(logging.NewNop(), consumers...)
	agg.OnChange(func(sum subscription.Summary) {
		f.Publish(context.Background(), sum)
	})

	apply(t, agg, captionsPkg, "audio_chunk", "transcription:en-US", "calendar_event")
	apply(t, agg, navPkg, "location_update")

	var audio *AudioTracker
	var location *LocationTracker
	for _, c := range consumers {
		switch tr := c.(type) {
		case *AudioTracker:
			audio = tr
		case *LocationTracker:
			location = tr
		}
	}
	require.NotNil(t, audio)
	require.NotNil(t, location)

	assert.True(t, audio.Capturing())
	assert.Equal(t, []string{captionsPkg}, audio.Apps())
	assert.Equal(t, []string{navPkg}, location.Watchers())
}

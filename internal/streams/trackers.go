package streams

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/subscription"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// AudioTracker follows which apps want raw audio and whether the
// device microphone should be capturing at all.
type AudioTracker struct {
	log *logging.Logger

	mu        sync.Mutex
	apps      []string
	capturing bool
}

func NewAudioTracker(log *logging.Logger) *AudioTracker {
	return &AudioTracker{log: log.Named("audio")}
}

func (t *AudioTracker) Name() string { return "audio" }

func (t *AudioTracker) OnSubscriptionChange(_ context.Context, sum subscription.Summary) error {
	apps := append([]string(nil), sum.AudioApps...)
	t.mu.Lock()
	added, removed := diffSorted(t.apps, apps)
	wasCapturing := t.capturing
	t.apps = apps
	t.capturing = sum.MicrophoneNeeded
	t.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		t.log.Debug("audio consumers changed",
			zap.Strings("added", added),
			zap.Strings("removed", removed))
	}
	if wasCapturing != sum.MicrophoneNeeded {
		t.log.Info("microphone capture state changed",
			zap.Bool("capturing", sum.MicrophoneNeeded))
	}
	return nil
}

// Capturing reports whether any app still needs device audio.
func (t *AudioTracker) Capturing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capturing
}

// Apps returns the packages consuming raw audio, sorted.
func (t *AudioTracker) Apps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.apps...)
}

// TranscriptionTracker follows the minimal set of transcription
// language streams the provider layer must produce, and which apps
// consume any language stream at all.
type TranscriptionTracker struct {
	log *logging.Logger

	mu        sync.Mutex
	apps      []string
	languages []string
}

func NewTranscriptionTracker(log *logging.Logger) *TranscriptionTracker {
	return &TranscriptionTracker{log: log.Named("transcription")}
}

func (t *TranscriptionTracker) Name() string { return "transcription" }

func (t *TranscriptionTracker) OnSubscriptionChange(_ context.Context, sum subscription.Summary) error {
	langs := filterLanguageTokens(sum.Languages, protocol.StreamTranscription)
	apps := append([]string(nil), sum.TranscriptionApps...)
	t.mu.Lock()
	added, removed := diffSorted(t.languages, langs)
	t.apps = apps
	t.languages = langs
	t.mu.Unlock()

	for _, lang := range added {
		t.log.Info("transcription stream needed", logging.Stream(lang))
	}
	for _, lang := range removed {
		t.log.Info("transcription stream released", logging.Stream(lang))
	}
	return nil
}

// Languages returns the active transcription stream tokens, sorted.
func (t *TranscriptionTracker) Languages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.languages...)
}

// Apps returns the packages consuming any language stream, sorted.
func (t *TranscriptionTracker) Apps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.apps...)
}

// TranslationTracker follows the active translation language pairs.
type TranslationTracker struct {
	log *logging.Logger

	mu    sync.Mutex
	pairs []string
}

func NewTranslationTracker(log *logging.Logger) *TranslationTracker {
	return &TranslationTracker{log: log.Named("translation")}
}

func (t *TranslationTracker) Name() string { return "translation" }

func (t *TranslationTracker) OnSubscriptionChange(_ context.Context, sum subscription.Summary) error {
	pairs := filterLanguageTokens(sum.Languages, protocol.StreamTranslation)
	t.mu.Lock()
	added, removed := diffSorted(t.pairs, pairs)
	t.pairs = pairs
	t.mu.Unlock()

	for _, pair := range added {
		t.log.Info("translation stream needed", logging.Stream(pair))
	}
	for _, pair := range removed {
		t.log.Info("translation stream released", logging.Stream(pair))
	}
	return nil
}

// Pairs returns the active translation stream tokens, sorted.
func (t *TranslationTracker) Pairs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.pairs...)
}

// LocationTracker follows whether device position updates have any
// consumers. The summary does not carry location facts, so it asks the
// aggregator directly.
type LocationTracker struct {
	log    *logging.Logger
	source SubscriberSource

	mu       sync.Mutex
	watchers []string
}

func NewLocationTracker(log *logging.Logger, source SubscriberSource) *LocationTracker {
	return &LocationTracker{log: log.Named("location"), source: source}
}

func (t *LocationTracker) Name() string { return "location" }

func (t *LocationTracker) OnSubscriptionChange(_ context.Context, _ subscription.Summary) error {
	watchers := t.source.Subscribers(protocol.Stream{Type: protocol.StreamLocation})
	t.mu.Lock()
	added, removed := diffSorted(t.watchers, watchers)
	hadWatchers := len(t.watchers) > 0
	t.watchers = watchers
	t.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		t.log.Debug("location consumers changed",
			zap.Strings("added", added),
			zap.Strings("removed", removed))
	}
	if hadWatchers != (len(watchers) > 0) {
		t.log.Info("location tracking state changed",
			zap.Bool("active", len(watchers) > 0))
	}
	return nil
}

// Watchers returns the packages consuming location updates, sorted.
func (t *LocationTracker) Watchers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.watchers...)
}

// CalendarTracker follows whether calendar relays have any consumers.
type CalendarTracker struct {
	log    *logging.Logger
	source SubscriberSource

	mu       sync.Mutex
	watchers []string
}

func NewCalendarTracker(log *logging.Logger, source SubscriberSource) *CalendarTracker {
	return &CalendarTracker{log: log.Named("calendar"), source: source}
}

func (t *CalendarTracker) Name() string { return "calendar" }

func (t *CalendarTracker) OnSubscriptionChange(_ context.Context, _ subscription.Summary) error {
	watchers := t.source.Subscribers(protocol.Stream{Type: protocol.StreamCalendar})
	t.mu.Lock()
	added, removed := diffSorted(t.watchers, watchers)
	t.watchers = watchers
	t.mu.Unlock()

	if len(added) > 0 || len(removed) > 0 {
		t.log.Debug("calendar consumers changed",
			zap.Strings("added", added),
			zap.Strings("removed", removed))
	}
	return nil
}

// Watchers returns the packages consuming calendar events, sorted.
func (t *CalendarTracker) Watchers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.watchers...)
}

// filterLanguageTokens keeps the tokens of one language stream type.
// Tokens come from the aggregator already canonical and sorted.
func filterLanguageTokens(tokens []string, streamType string) []string {
	var out []string
	for _, tok := range tokens {
		s, err := protocol.ParseStream(tok)
		if err != nil {
			continue
		}
		if s.Type == streamType {
			out = append(out, tok)
		}
	}
	return out
}

// diffSorted compares two sorted string slices.
func diffSorted(old, cur []string) (added, removed []string) {
	i, j := 0, 0
	for i < len(old) && j < len(cur) {
		switch {
		case old[i] == cur[j]:
			i++
			j++
		case old[i] < cur[j]:
			removed = append(removed, old[i])
			i++
		default:
			added = append(added, cur[j])
			j++
		}
	}
	removed = append(removed, old[i:]...)
	added = append(added, cur[j:]...)
	return added, removed
}

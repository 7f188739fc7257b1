package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// PermissionSource resolves the catalog entry whose declared
// permissions gate an app's subscriptions.
type PermissionSource interface {
	Get(ctx context.Context, packageName string) (*catalog.App, error)
}

// Change is one journal entry in an app's subscription history.
type Change struct {
	At      time.Time `json:"at"`
	Streams []string  `json:"streams"`
	Dropped []string  `json:"dropped,omitempty"`
}

// Summary is the aggregate view consumers act on.
type Summary struct {
	// MicrophoneNeeded is true while any app subscribes to a stream
	// that depends on device audio capture.
	MicrophoneNeeded bool
	// AudioApps are the packages subscribed to raw audio chunks.
	AudioApps []string
	// TranscriptionApps are the packages subscribed to any
	// transcription or translation stream.
	TranscriptionApps []string
	// Languages are the canonical language-stream tokens (parameters
	// stripped) transcribers must produce, sorted.
	Languages []string
}

// Aggregator owns the subscription state for one session.
type Aggregator struct {
	cfg     config.SubscriptionConfig
	perms   PermissionSource
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	subs    map[string][]protocol.Stream
	history map[string][]Change

	changeMu sync.Mutex
	onChange func(Summary)
}

// NewAggregator creates an empty aggregator for one session.
func NewAggregator(cfg config.SubscriptionConfig, perms PermissionSource, log *logging.Logger, metrics *monitoring.Metrics) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		perms:   perms,
		log:     log.Named("subscriptions"),
		metrics: metrics,
		subs:    make(map[string][]protocol.Stream),
		history: make(map[string][]Change),
	}
}

// OnChange registers the callback fired after every applied update or
// clear, outside the aggregator lock.
func (a *Aggregator) OnChange(fn func(Summary)) {
	a.changeMu.Lock()
	defer a.changeMu.Unlock()
	a.onChange = fn
}

// Apply replaces the app's subscription set. Unparseable tokens reject
// the whole update; streams the app has no permission for are dropped
// and logged but do not fail it. Returns the previous set.
func (a *Aggregator) Apply(ctx context.Context, packageName string, entries []protocol.SubscriptionEntry) ([]protocol.Stream, error) {
	parsed := make([]protocol.Stream, 0, len(entries))
	for _, e := range entries {
		s, err := e.Parse()
		if err != nil {
			a.metrics.RecordSubscriptionUpdate("invalid")
			return nil, fmt.Errorf("subscription update for %s: %w", packageName, err)
		}
		parsed = append(parsed, s.Normalize(a.cfg.DefaultLocale))
	}

	app, err := a.perms.Get(ctx, packageName)
	if err != nil {
		a.metrics.RecordSubscriptionUpdate("error")
		return nil, fmt.Errorf("subscription update for %s: %w", packageName, err)
	}

	accepted := make([]protocol.Stream, 0, len(parsed))
	var dropped []string
	seen := make(map[string]bool, len(parsed))
	for _, s := range parsed {
		if !catalog.Permitted(app, s) {
			dropped = append(dropped, s.String())
			continue
		}
		key := s.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		accepted = append(accepted, s)
	}

	if len(dropped) > 0 {
		a.log.Warn("dropped subscriptions without permission",
			logging.App(packageName),
			zap.Strings("streams", dropped))
	}

	a.mu.Lock()
	prev := a.subs[packageName]
	a.subs[packageName] = accepted
	a.appendChange(packageName, Change{
		At:      time.Now().UTC(),
		Streams: tokens(accepted),
		Dropped: dropped,
	})
	a.mu.Unlock()

	a.metrics.RecordSubscriptionUpdate("ok")
	a.log.Debug("subscriptions applied",
		logging.App(packageName),
		zap.Int("count", len(accepted)),
		zap.Int("dropped", len(dropped)))

	a.fireChange()
	return prev, nil
}

// Clear removes every subscription for an app and returns what was
// removed. Used when an app stops.
func (a *Aggregator) Clear(packageName string) []protocol.Stream {
	a.mu.Lock()
	prev, ok := a.subs[packageName]
	if ok {
		delete(a.subs, packageName)
		a.appendChange(packageName, Change{At: time.Now().UTC(), Streams: nil})
	}
	a.mu.Unlock()

	if ok {
		a.fireChange()
	}
	return prev
}

// Restore reinstates a previously captured subscription set without
// permission re-filtering. Used when an app resurrects.
func (a *Aggregator) Restore(packageName string, streams []protocol.Stream) {
	if len(streams) == 0 {
		return
	}
	a.mu.Lock()
	a.subs[packageName] = streams
	a.appendChange(packageName, Change{At: time.Now().UTC(), Streams: tokens(streams)})
	a.mu.Unlock()
	a.fireChange()
}

// IsCurrent reports whether the entries resolve to exactly the app's
// active subscription set. Lets callers skip resubscribes that change
// nothing. Unparseable entries report false so Apply surfaces the real
// error.
func (a *Aggregator) IsCurrent(packageName string, entries []protocol.SubscriptionEntry) bool {
	want := make(map[string]bool, len(entries))
	for _, e := range entries {
		s, err := e.Parse()
		if err != nil {
			return false
		}
		want[s.Normalize(a.cfg.DefaultLocale).String()] = true
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	have := a.subs[packageName]
	if len(have) != len(want) {
		return false
	}
	for _, s := range have {
		if !want[s.String()] {
			return false
		}
	}
	return true
}

// ForApp returns a copy of the app's active subscriptions.
func (a *Aggregator) ForApp(packageName string) []protocol.Stream {
	a.mu.RLock()
	defer a.mu.RUnlock()
	subs := a.subs[packageName]
	out := make([]protocol.Stream, len(subs))
	copy(out, subs)
	return out
}

// Subscribers returns the packages whose subscriptions cover the
// incoming stream, sorted.
func (a *Aggregator) Subscribers(in protocol.Stream) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var pkgs []string
	for pkg, subs := range a.subs {
		for _, s := range subs {
			if s.Matches(in) {
				pkgs = append(pkgs, pkg)
				break
			}
		}
	}
	sort.Strings(pkgs)
	return pkgs
}

// NeedsMicrophone reports whether any app still depends on device
// audio capture.
func (a *Aggregator) NeedsMicrophone() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summaryLocked().MicrophoneNeeded
}

// NeedsAudio reports whether any app wants raw audio chunks.
func (a *Aggregator) NeedsAudio() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.summaryLocked().AudioApps) > 0
}

// NeedsTranscription reports whether any app wants a transcription or
// translation stream.
func (a *Aggregator) NeedsTranscription() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.summaryLocked().TranscriptionApps) > 0
}

// Summary computes the aggregate view.
func (a *Aggregator) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.summaryLocked()
}

// History returns the app's journal, oldest first.
func (a *Aggregator) History(packageName string) []Change {
	a.mu.RLock()
	defer a.mu.RUnlock()
	hist := a.history[packageName]
	out := make([]Change, len(hist))
	copy(out, hist)
	return out
}

// Snapshot returns every app's active tokens for the debug API.
func (a *Aggregator) Snapshot() map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string][]string, len(a.subs))
	for pkg, subs := range a.subs {
		out[pkg] = tokens(subs)
	}
	return out
}

func (a *Aggregator) summaryLocked() Summary {
	var sum Summary
	langSet := make(map[string]bool)
	for pkg, subs := range a.subs {
		for _, s := range subs {
			if s.NeedsMicrophone() || s.IsWildcard() {
				sum.MicrophoneNeeded = true
			}
			if s.Type == protocol.StreamAudioChunk || s.IsWildcard() {
				sum.AudioApps = append(sum.AudioApps, pkg)
			}
			if s.IsLanguageStream() {
				sum.TranscriptionApps = append(sum.TranscriptionApps, pkg)
				langSet[s.WithoutParams().String()] = true
			}
		}
	}
	sum.AudioApps = dedupSorted(sum.AudioApps)
	sum.TranscriptionApps = dedupSorted(sum.TranscriptionApps)
	for lang := range langSet {
		sum.Languages = append(sum.Languages, lang)
	}
	sort.Strings(sum.Languages)
	return sum
}

// appendChange is called with a.mu held.
func (a *Aggregator) appendChange(packageName string, c Change) {
	hist := append(a.history[packageName], c)
	if limit := a.cfg.HistoryLimit; limit > 0 && len(hist) > limit {
		hist = hist[len(hist)-limit:]
	}
	a.history[packageName] = hist
}

func (a *Aggregator) fireChange() {
	a.changeMu.Lock()
	fn := a.onChange
	a.changeMu.Unlock()
	if fn != nil {
		fn(a.Summary())
	}
}

func tokens(streams []protocol.Stream) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.String()
	}
	return out
}

func dedupSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	sort.Strings(in)
	out := in[:1]
	for _, s := range in[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}

// Package streams fans subscription changes out to the downstream
// stream managers.
//
// The audio, transcription, translation, location, and calendar
// pipelines each own their capture or provider concerns; this package
// only tells them what the session's apps currently want. Delivery is
// best-effort: a consumer error is logged against its name and never
// blocks the others or the caller.
package streams

import (
	"context"

	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/subscription"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/protocol"
)

// Consumer reacts to the session's aggregate subscription state.
type Consumer interface {
	Name() string
	OnSubscriptionChange(ctx context.Context, sum subscription.Summary) error
}

// SubscriberSource answers which apps currently cover a stream, for
// consumers that need more than the summary carries.
type SubscriberSource interface {
	Subscribers(in protocol.Stream) []string
}

// Fanout pushes every subscription change to its registered consumers
// in registration order.
type Fanout struct {
	log       *logging.Logger
	consumers []Consumer
}

// NewFanout creates a fanout over the given consumers.
func NewFanout(log *logging.Logger, consumers ...Consumer) *Fanout {
	return &Fanout{
		log:       log.Named("streams"),
		consumers: consumers,
	}
}

// Register adds a consumer. Not safe to call concurrently with Publish.
func (f *Fanout) Register(c Consumer) {
	f.consumers = append(f.consumers, c)
}

// Publish delivers the summary to every consumer. Errors are logged
// and swallowed so one broken pipeline cannot stall the session.
func (f *Fanout) Publish(ctx context.Context, sum subscription.Summary) {
	for _, c := range f.consumers {
		if err := c.OnSubscriptionChange(ctx, sum); err != nil {
			f.log.Warn("stream consumer rejected subscription change",
				zap.String("consumer", c.Name()),
				zap.Error(err))
		}
	}
}

// DefaultConsumers builds the standard tracker set for one session.
func DefaultConsumers(log *logging.Logger, source SubscriberSource) []Consumer {
	return []Consumer{
		NewAudioTracker(log),
		NewTranscriptionTracker(log),
		NewTranslationTracker(log),
		NewLocationTracker(log, source),
		NewCalendarTracker(log, source),
	}
}

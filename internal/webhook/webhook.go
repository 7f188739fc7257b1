// Package webhook delivers session lifecycle notifications to app
// servers over HTTP.
//
// When the cloud wants an app to join a session it POSTs a session
// request to the app's webhook endpoint; the app server answers by
// opening a websocket back to the cloud. Deliveries retry with
// backoff, and a per-endpoint circuit breaker keeps a dead app server
// from stalling every start attempt pointed at it.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/catalog"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/logging"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/resilience"
)

// Webhook payload types.
const (
	TypeSessionRequest = "session_request"
	TypeStopRequest    = "stop_request"
)

// SessionWebhook is the payload POSTed to an app server.
type SessionWebhook struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`

	// CallbackWebSocketURL is where the app server should connect for a
	// session request.
	CallbackWebSocketURL string `json:"callbackWebsocketUrl,omitempty"`

	// Reason accompanies a stop request.
	Reason string `json:"reason,omitempty"`
}

// Dispatcher delivers webhooks with retries and per-endpoint breakers.
type Dispatcher struct {
	client  *resty.Client
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	breakers map[string]*resilience.Breaker
}

// NewDispatcher creates a dispatcher from webhook config.
func NewDispatcher(cfg config.WebhookConfig, log *logging.Logger, metrics *monitoring.Metrics) *Dispatcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = cfg.Backoff
	retryClient.RetryWaitMax = 8 * cfg.Backoff
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(cfg.Backoff).
		SetRetryMaxWaitTime(8 * cfg.Backoff).
		SetHeader("User-Agent", "glass-cloud/1.0")
	client.SetTransport(retryClient.HTTPClient.Transport)
	// Retry transport errors and 5xx; a 4xx is the app server telling
	// us the request itself is wrong.
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		return err != nil || r.StatusCode() >= http.StatusInternalServerError
	})

	return &Dispatcher{
		client:   client,
		log:      log.Named("webhook"),
		metrics:  metrics,
		breakers: make(map[string]*resilience.Breaker),
	}
}

// SendSessionRequest asks the app server to open a websocket back to
// the cloud for the given session.
func (d *Dispatcher) SendSessionRequest(ctx context.Context, app *catalog.App, sessionID, userID, wsURL string) error {
	return d.deliver(ctx, app, SessionWebhook{
		Type:                 TypeSessionRequest,
		SessionID:            sessionID,
		UserID:               userID,
		Timestamp:            time.Now().UTC(),
		CallbackWebSocketURL: wsURL,
	})
}

// SendStopRequest tells the app server the session ended. Best effort;
// the app's websocket is closed regardless of the outcome.
func (d *Dispatcher) SendStopRequest(ctx context.Context, app *catalog.App, sessionID, userID, reason string) error {
	return d.deliver(ctx, app, SessionWebhook{
		Type:      TypeStopRequest,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
}

func (d *Dispatcher) deliver(ctx context.Context, app *catalog.App, payload SessionWebhook) error {
	url := app.WebhookURL()
	if url == "" {
		return fmt.Errorf("app %s has no public url", app.PackageName)
	}

	start := time.Now()
	err := d.breakerFor(url).Do(func() error {
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(payload).
			Post(url)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("webhook %s returned %s", url, resp.Status())
		}
		return nil
	})
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = "error"
		d.log.Warn("webhook delivery failed",
			logging.App(app.PackageName),
			zap.String("webhookType", payload.Type),
			zap.String("url", url),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		d.log.Debug("webhook delivered",
			logging.App(app.PackageName),
			zap.String("webhookType", payload.Type),
			zap.Duration("elapsed", elapsed))
	}
	d.metrics.RecordWebhook(payload.Type, result, elapsed)

	if err != nil {
		return fmt.Errorf("deliver %s webhook to %s: %w", payload.Type, app.PackageName, err)
	}
	return nil
}

// breakerFor returns the circuit breaker for a webhook endpoint,
// creating it on first use.
func (d *Dispatcher) breakerFor(url string) *resilience.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[url]
	if !ok {
		b = resilience.New("webhook:"+url, resilience.Settings{})
		d.breakers[url] = b
	}
	return b
}

package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Peer labels for websocket metrics.
const (
	PeerDevice = "device"
	PeerApp    = "app"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsTotal   prometheus.Counter
	SessionsResumed prometheus.Counter

	// App lifecycle metrics
	AppsRunning        prometheus.Gauge
	AppStarts          *prometheus.CounterVec
	AppStops           *prometheus.CounterVec
	Resurrections      *prometheus.CounterVec
	AppSessionDuration prometheus.Histogram
	HeartbeatTimeouts  prometheus.Counter

	// Webhook metrics
	WebhookDeliveries *prometheus.CounterVec
	WebhookDuration   prometheus.Histogram

	// Display metrics
	Displays *prometheus.CounterVec

	// Subscription metrics
	SubscriptionUpdates *prometheus.CounterVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	ActiveSessions int64
	RunningApps    int64
	WSConnections  int64
	TotalDuration  float64 // sum of all request durations
	RequestCount   int64   // count for averaging
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cloud_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Session metrics
		SessionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloud_sessions_active",
				Help: "Number of live user sessions",
			},
		),
		SessionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cloud_sessions_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsResumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cloud_sessions_resumed_total",
				Help: "Total number of device reconnects that reused a live session",
			},
		),

		// App lifecycle metrics
		AppsRunning: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloud_apps_running",
				Help: "Number of app controllers currently in the running state",
			},
		),
		AppStarts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_app_starts_total",
				Help: "Total number of app start attempts by outcome",
			},
			[]string{"result"},
		),
		AppStops: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_app_stops_total",
				Help: "Total number of app stops by reason",
			},
			[]string{"reason"},
		),
		Resurrections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_resurrections_total",
				Help: "Total number of app restart cycles after a lost connection by outcome",
			},
			[]string{"result"},
		),
		AppSessionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloud_app_session_duration_seconds",
				Help:    "How long apps stay running before stopping",
				Buckets: []float64{1, 10, 60, 300, 900, 3600, 14400, 86400},
			},
		),
		HeartbeatTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "cloud_heartbeat_timeouts_total",
				Help: "Total number of device connections closed for missed pongs",
			},
		),

		// Webhook metrics
		WebhookDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_webhook_deliveries_total",
				Help: "Total number of app webhook deliveries by type and result",
			},
			[]string{"type", "result"},
		),
		WebhookDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cloud_webhook_duration_seconds",
				Help:    "App webhook delivery duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		// Display metrics
		Displays: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_displays_total",
				Help: "Total number of display requests by view and arbitration outcome",
			},
			[]string{"view", "outcome"},
		),

		// Subscription metrics
		SubscriptionUpdates: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_subscription_updates_total",
				Help: "Total number of subscription updates by result",
			},
			[]string{"result"},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cloud_ws_connections",
				Help: "Number of active WebSocket connections by peer kind",
			},
			[]string{"peer"},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cloud_ws_messages_total",
				Help: "Total number of WebSocket messages by peer, direction, and type",
			},
			[]string{"peer", "direction", "type"},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "cloud_uptime_seconds",
				Help: "Cloud uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if status[0] == '4' || status[0] == '5' {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(peer, direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(peer, direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections for a peer kind
func (m *Metrics) IncWSConnections(peer string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(peer).Inc()
	m.mu.Lock()
	m.snapshot.WSConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections for a peer kind
func (m *Metrics) DecWSConnections(peer string) {
	if m == nil {
		return
	}
	m.WSConnections.WithLabelValues(peer).Dec()
	m.mu.Lock()
	m.snapshot.WSConnections--
	m.mu.Unlock()
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal increments the sessions created counter
func (m *Metrics) IncSessionsTotal() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// IncSessionsResumed increments the session resume counter
func (m *Metrics) IncSessionsResumed() {
	if m == nil {
		return
	}
	m.SessionsResumed.Inc()
}

// SetAppsRunning sets the number of running app controllers
func (m *Metrics) SetAppsRunning(count int) {
	if m == nil {
		return
	}
	m.AppsRunning.Set(float64(count))
	m.mu.Lock()
	m.snapshot.RunningApps = int64(count)
	m.mu.Unlock()
}

// RecordAppStart records an app start attempt outcome
func (m *Metrics) RecordAppStart(result string) {
	if m == nil {
		return
	}
	m.AppStarts.WithLabelValues(result).Inc()
}

// RecordAppStop records why an app stopped
func (m *Metrics) RecordAppStop(reason string) {
	if m == nil {
		return
	}
	m.AppStops.WithLabelValues(reason).Inc()
}

// RecordResurrection records the outcome of one restart cycle
func (m *Metrics) RecordResurrection(result string) {
	if m == nil {
		return
	}
	m.Resurrections.WithLabelValues(result).Inc()
}

// ObserveAppSession records how long an app ran before stopping
func (m *Metrics) ObserveAppSession(duration time.Duration) {
	if m == nil {
		return
	}
	m.AppSessionDuration.Observe(duration.Seconds())
}

// IncHeartbeatTimeouts increments the missed pong counter
func (m *Metrics) IncHeartbeatTimeouts() {
	if m == nil {
		return
	}
	m.HeartbeatTimeouts.Inc()
}

// RecordWebhook records a webhook delivery outcome
func (m *Metrics) RecordWebhook(webhookType, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(webhookType, result).Inc()
	m.WebhookDuration.Observe(duration.Seconds())
}

// RecordDisplay records a display request arbitration outcome
func (m *Metrics) RecordDisplay(view, outcome string) {
	if m == nil {
		return
	}
	m.Displays.WithLabelValues(view, outcome).Inc()
}

// RecordSubscriptionUpdate records a subscription update outcome
func (m *Metrics) RecordSubscriptionUpdate(result string) {
	if m == nil {
		return
	}
	m.SubscriptionUpdates.WithLabelValues(result).Inc()
}

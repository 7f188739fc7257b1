package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/app"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/domain/session"
	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/monitoring"
)

// Handlers contains the REST handlers that live next to the sockets.
// The surface is read-only; everything that mutates state arrives over
// a websocket.
type Handlers struct {
	sessions  *session.Registry
	metrics   *monitoring.Metrics
	startedAt time.Time
}

// NewHandlers creates a new handler set.
func NewHandlers(sessions *session.Registry, metrics *monitoring.Metrics) *Handlers {
	return &Handlers{
		sessions:  sessions,
		metrics:   metrics,
		startedAt: time.Now(),
	}
}

// Root identifies the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "session-cloud",
		"version": "0.1.0",
	})
}

// Health handles the liveness check. The stats block mirrors a few
// Prometheus counters as plain JSON for dashboards that do not scrape.
func (h *Handlers) Health(c *gin.Context) {
	snap := h.metrics.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptimeSeconds":  int64(time.Since(h.startedAt).Seconds()),
		"activeSessions": h.sessions.Len(),
		"stats": gin.H{
			"totalRequests":     snap.TotalRequests,
			"totalErrors":       snap.TotalErrors,
			"runningApps":       snap.RunningApps,
			"wsConnections":     snap.WSConnections,
			"avgRequestSeconds": h.metrics.AvgRequestDuration(),
		},
	})
}

// ListSessions lists every live session, one line each.
func (h *Handlers) ListSessions(c *gin.Context) {
	ctx := c.Request.Context()

	list := h.sessions.List()
	sessions := make([]gin.H, 0, len(list))
	for _, s := range list {
		snap := s.Snapshot(ctx)
		running := 0
		for _, a := range snap.Apps {
			if a.State == string(app.StateRunning) {
				running++
			}
		}
		sessions = append(sessions, gin.H{
			"sessionId":       snap.SessionID,
			"userId":          snap.UserID,
			"startedAt":       snap.StartedAt,
			"deviceConnected": s.DeviceConnected(),
			"runningApps":     running,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// GetSession returns the full debug view of one user's session:
// snapshot, subscription state and display arbitration state. Pass
// ?app=<package> to include that app's subscription change journal.
func (h *Handlers) GetSession(c *gin.Context) {
	userID := c.Param("userId")

	s, ok := h.sessions.Get(userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no active session for " + userID,
		})
		return
	}

	resp := gin.H{
		"success":         true,
		"session":         s.Snapshot(c.Request.Context()),
		"deviceConnected": s.DeviceConnected(),
		"subscriptions":   s.SubscriptionSnapshot(),
		"display":         s.DisplaySnapshot(),
	}
	if pkg := c.Query("app"); pkg != "" {
		resp["subscriptionHistory"] = s.SubscriptionHistory(pkg)
	}
	c.JSON(http.StatusOK, resp)
}

package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/infrastructure/config"
)

// Idle limiters are dropped once the client map grows past this many
// entries, so a scan cannot pin memory forever.
const (
	maxTrackedClients = 10000
	clientIdleExpiry  = 10 * time.Minute
)

// RateLimit creates a per-IP rate limiting middleware for the REST
// surface. WebSocket endpoints are exempt by routing: one long-lived
// connection is not a request stream.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		mu.Lock()
		cl, exists := clients[ip]
		if !exists {
			if len(clients) >= maxTrackedClients {
				for key, old := range clients {
					if now.Sub(old.lastSeen) > clientIdleExpiry {
						delete(clients, key)
					}
				}
			}
			cl = &client{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
			clients[ip] = cl
		}
		cl.lastSeen = now
		limiter := cl.limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GlobalRateLimit creates a single shared rate limiter, for endpoints
// where aggregate load matters more than per-client fairness.
func GlobalRateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

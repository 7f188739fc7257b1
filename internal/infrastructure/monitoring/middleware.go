package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection.
// The scrape endpoint itself is excluded so dashboards do not
// measure their own polling.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		// Process request
		c.Next()

		status := c.Writer.Status()
		if status == http.StatusSwitchingProtocols {
			// Upgraded connections hold the handler for the whole
			// connection lifetime; their elapsed time is not request
			// latency. Connection counts live in the ws gauges.
			return
		}

		if route := c.FullPath(); route != "" {
			path = route
		}

		metrics.RecordHTTPRequest(method, path, strconv.Itoa(status), time.Since(start))
	}
}

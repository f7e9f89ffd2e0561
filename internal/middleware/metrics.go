package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dev.helix.router/internal/observability/metrics"
)

// Metrics records request counts and latencies into the collector. The
// route template is used as the endpoint label so path parameters do
// not explode the cardinality.
func Metrics(collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		collector.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedPath labels requests that hit no route, keeping label cardinality
// bounded.
const unmatchedPath = "unmatched"

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}

		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RecordHTTPRequest(method, path, status, time.Since(start), reqSize)
	}
}

// Timer measures one engine call.
type Timer struct {
	start   time.Time
	metrics *Metrics
	method  string
}

// NewTimer starts timing an engine call. A nil metrics makes Stop a no-op.
func NewTimer(metrics *Metrics, method string) *Timer {
	return &Timer{start: time.Now(), metrics: metrics, method: method}
}

// Stop records the call duration and result.
func (t *Timer) Stop(err error) {
	if t.metrics == nil {
		return
	}
	t.metrics.RecordEngineCall(t.method, err, time.Since(t.start))
}

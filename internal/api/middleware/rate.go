package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// GlobalRateLimit applies one token bucket to every client of the service.
// Rejected requests get 429 and the connection is closed.
func GlobalRateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)

	return func(c *gin.Context) {
		if limiter.Allow() {
			c.Next()
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Header("Retry-After", "1")
		c.Header("Connection", "close")
		c.AbortWithStatus(http.StatusTooManyRequests)
	}
}

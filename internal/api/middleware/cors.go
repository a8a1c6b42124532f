package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/tracing"
)

// Gate is the fixed origin allow-list. Matching is exact string equality;
// no normalization of scheme, case or trailing slash is done.
type Gate struct {
	origins map[string]struct{}
	ordered []string
}

// NewGate builds a gate from origins. Empty entries are skipped.
func NewGate(origins []string) *Gate {
	g := &Gate{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "" {
			continue
		}
		if _, dup := g.origins[o]; dup {
			continue
		}
		g.origins[o] = struct{}{}
		g.ordered = append(g.ordered, o)
	}
	return g
}

// Allowed reports whether origin is on the list.
func (g *Gate) Allowed(origin string) bool {
	_, ok := g.origins[origin]
	return ok
}

// Origins returns the allow-list in configuration order.
func (g *Gate) Origins() []string {
	return append([]string(nil), g.ordered...)
}

// CheckOrigin is the WebSocket handshake check. A request without an Origin
// header is rejected like any other unlisted origin.
func (g *Gate) CheckOrigin(r *http.Request) bool {
	return g.Allowed(r.Header.Get("Origin"))
}

// CORS decorates responses to allow-listed origins with
// Access-Control-Allow-Origin and answers their preflight requests. Requests
// from other origins pass through untouched; only the WebSocket handshake
// rejects them.
func CORS(gate *Gate) gin.HandlerFunc {
	decorate := cors.New(cors.Config{
		AllowOriginFunc: gate.Allowed,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			"Content-Type",
			"Content-Length",
			"Content-Encoding",
			"Accept",
			"Origin",
			"Cache-Control",
			exchange.SeqHeader,
			tracing.HeaderTraceID,
			tracing.HeaderSpanID,
		},
		ExposeHeaders: []string{tracing.HeaderTraceID, tracing.HeaderSpanID},
		MaxAge:        12 * time.Hour,
	})

	return func(c *gin.Context) {
		if gate.Allowed(c.GetHeader("Origin")) {
			decorate(c)
			return
		}
		c.Next()
	}
}

package http

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
)

const (
	ContentTypeProtobuf = "application/x-protobuf"
	ContentTypeText     = "text/plain"

	TransferIdentity = "identity"
	TransferChunked  = "chunked"
)

var errHijackUnsupported = errors.New("response writer does not support hijacking")

// standardHeaders sets the header block shared by every RPC response. The
// transfer encoding is chosen per response and never carried over. For
// one-shot responses net/http drops "identity" once Content-Length is set,
// so on the wire identity is expressed by Content-Length alone.
func standardHeaders(h http.Header, transferEncoding string) {
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", ContentTypeProtobuf)
	h.Set("Transfer-Encoding", transferEncoding)
}

// writeOneShot sends a complete protobuf response. The explicit
// Content-Length keeps net/http from chunking it.
func writeOneShot(c *gin.Context, status int, body []byte) {
	h := c.Writer.Header()
	standardHeaders(h, TransferIdentity)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	c.Status(status)
	c.Writer.WriteHeaderNow()
	if len(body) > 0 {
		_, _ = c.Writer.Write(body)
	}
}

// writeNotFound answers unrouted requests and closes the connection.
func writeNotFound(c *gin.Context) {
	c.Header("Connection", "close")
	writeOneShot(c, http.StatusNotFound, nil)
}

// hijack takes over the client connection for a chunked response. Headers
// already staged on the gin writer (CORS, tracing) are carried into the
// head written later by the caller.
func hijack(c *gin.Context) (*exchange.HTTPConn, http.Header, error) {
	header := c.Writer.Header().Clone()
	standardHeaders(header, TransferChunked)
	header.Set("Connection", "close")
	header.Del("Content-Length")

	netConn, rw, err := hijackWriter(c.Writer)
	if err != nil {
		return nil, nil, err
	}
	return exchange.NewHTTPConn(netConn, rw.Writer), header, nil
}

// hijackWriter guards against writers whose underlying ResponseWriter is not
// an http.Hijacker, on which gin's Hijack panics.
func hijackWriter(w gin.ResponseWriter) (conn net.Conn, rw *bufio.ReadWriter, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn, rw, err = nil, nil, errHijackUnsupported
		}
	}()
	conn, rw, err = w.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack: %w", err)
	}
	return conn, rw, nil
}

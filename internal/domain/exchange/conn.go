package exchange

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one client connection as seen by the multiplexer. A connection is
// either plain HTTP or WebSocket, decided at handshake and fixed thereafter.
type Conn interface {
	IsWebSocket() bool
	// Send writes raw response bytes on HTTP, or one binary message on
	// WebSocket.
	Send(p []byte) error
	Flush() error
	Close() error
}

// HTTPConn is a hijacked HTTP/1.1 connection whose response bytes, framing
// included, are written directly.
type HTTPConn struct {
	conn   net.Conn
	w      *bufio.Writer
	mu     sync.Mutex
	closed bool
}

// NewHTTPConn wraps a hijacked connection. Deadlines inherited from the HTTP
// server are cleared so long streams are not cut off.
func NewHTTPConn(conn net.Conn, w *bufio.Writer) *HTTPConn {
	_ = conn.SetDeadline(time.Time{})
	if w == nil {
		w = bufio.NewWriter(conn)
	}
	return &HTTPConn{conn: conn, w: w}
}

func (c *HTTPConn) IsWebSocket() bool { return false }

// WriteHead writes the status line and header block. It must precede the
// first Send.
func (c *HTTPConn) WriteHead(status int, header http.Header) error {
	if _, err := fmt.Fprintf(c.w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	if err := header.Write(c.w); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *HTTPConn) Send(p []byte) error {
	if c.isClosed() {
		return net.ErrClosed
	}
	_, err := c.w.Write(p)
	return err
}

func (c *HTTPConn) Flush() error {
	if c.isClosed() {
		return net.ErrClosed
	}
	return c.w.Flush()
}

// Close flushes pending bytes and closes the socket. Safe to call twice.
func (c *HTTPConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	flushErr := c.w.Flush()
	if err := c.conn.Close(); err != nil {
		return err
	}
	return flushErr
}

func (c *HTTPConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WSConn adapts a gorilla WebSocket connection. Writes happen only on the
// exchange loop; the owning handler goroutine only reads.
type WSConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       bool
}

// NewWSConn wraps conn. A zero writeTimeout disables write deadlines.
func NewWSConn(conn *websocket.Conn, writeTimeout time.Duration) *WSConn {
	return &WSConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *WSConn) IsWebSocket() bool { return true }

func (c *WSConn) Send(p []byte) error {
	if c.isClosed() {
		return net.ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, p)
}

func (c *WSConn) Flush() error { return nil }

// Close sends a best-effort close frame and closes the socket, which also
// unblocks the reader.
func (c *WSConn) Close() error {
	return c.closeWith(websocket.CloseInternalServerErr, "rpc failure")
}

// GoAway closes the socket with a going-away frame. It is used when the
// server shuts down with the connection still open.
func (c *WSConn) GoAway() error {
	return c.closeWith(websocket.CloseGoingAway, "server shutting down")
}

func (c *WSConn) closeWith(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}

// Closed reports whether Close has been called.
func (c *WSConn) Closed() bool { return c.isClosed() }

func (c *WSConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracebridge/internal/api/middleware"
	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracebridge/internal/shared/id"
)

// Message directions for the per-direction counters.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Config holds tunnel limits.
type Config struct {
	// ReadLimit caps one inbound message. Zero means no limit.
	ReadLimit int64
	// WriteTimeout bounds each outbound message. Zero disables deadlines.
	WriteTimeout time.Duration
}

// Handler serves the WebSocket RPC tunnel.
type Handler struct {
	engine   engine.Engine
	loop     *exchange.Loop
	mux      *exchange.Mux
	gate     *middleware.Gate
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    map[id.ConnID]*exchange.WSConn
	shutdown bool
}

type connIDKey struct{}

// NewHandler creates the tunnel handler. metrics and logger may be nil.
func NewHandler(eng engine.Engine, loop *exchange.Loop, mux *exchange.Mux, gate *middleware.Gate,
	cfg Config, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		engine:  eng,
		loop:    loop,
		mux:     mux,
		gate:    gate,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		conns:   make(map[id.ConnID]*exchange.WSConn),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  64 << 10,
		WriteBufferSize: 64 << 10,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.gate.CheckOrigin(r) {
		return true
	}
	connID, _ := r.Context().Value(connIDKey{}).(id.ConnID)
	h.logger.Warn("WebSocket connection rejected",
		zap.String("conn_id", connID.String()),
		zap.String("origin", r.Header.Get("Origin")),
		zap.String("remote", r.RemoteAddr),
	)
	if h.metrics != nil {
		h.metrics.IncWSRejected()
	}
	return false
}

// HandleConnection upgrades the request and runs one exchange per inbound
// binary message until the client disconnects or an exchange fails.
func (h *Handler) HandleConnection(c *gin.Context) {
	connID := id.NewConnID()
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), connIDKey{}, connID))

	// On failure the upgrader has already answered (403 for a bad origin).
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("WebSocket upgrade failed", zap.String("conn_id", connID.String()), zap.Error(err))
		return
	}
	if h.cfg.ReadLimit > 0 {
		conn.SetReadLimit(h.cfg.ReadLimit)
	}
	wc := exchange.NewWSConn(conn, h.cfg.WriteTimeout)
	defer conn.Close()

	if !h.track(connID, wc) {
		_ = wc.GoAway()
		return
	}
	defer h.untrack(connID)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	log := h.logger.With(zap.String("conn_id", connID.String()))
	log.Info("WebSocket connection opened", zap.String("remote", c.Request.RemoteAddr))

	ctx := c.Request.Context()
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			logClosed(log, wc, err)
			return
		}
		h.count(DirectionIn)

		if typ != websocket.BinaryMessage {
			log.Warn("Ignoring non-binary WebSocket message", zap.Int("type", typ), zap.Int("len", len(data)))
			continue
		}

		if err := h.loop.Do(ctx, func() { h.exchange(ctx, wc, data) }); err != nil {
			log.Info("WebSocket message dropped", zap.Error(err))
			return
		}
		if wc.Closed() {
			return
		}
	}
}

// exchange runs on the loop.
func (h *Handler) exchange(ctx context.Context, wc *exchange.WSConn, req []byte) {
	x := h.mux.Begin(wc)
	defer x.Release()

	send := func(chunk []byte) error {
		if err := x.Send(chunk); err != nil {
			return err
		}
		h.count(DirectionOut)
		return nil
	}
	if err := h.engine.OnRPCRequest(ctx, req, send); err != nil && !errors.Is(err, engine.ErrAborted) {
		h.logger.Error("Engine call failed",
			zap.String("op", "rpc"),
			zap.String("exchange_id", x.ID().String()),
			zap.Error(err),
		)
	}
	_ = x.Finish()
}

func (h *Handler) count(direction string) {
	if h.metrics != nil {
		h.metrics.RecordWSMessage(direction)
	}
}

// Open returns the number of tracked connections.
func (h *Handler) Open() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a going-away frame on every open connection and refuses
// connections that finish upgrading afterwards. It returns how many
// connections were closed.
func (h *Handler) CloseAll() int {
	h.mu.Lock()
	h.shutdown = true
	open := make([]*exchange.WSConn, 0, len(h.conns))
	for _, wc := range h.conns {
		open = append(open, wc)
	}
	h.mu.Unlock()

	for _, wc := range open {
		_ = wc.GoAway()
	}
	return len(open)
}

func (h *Handler) track(connID id.ConnID, wc *exchange.WSConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	h.conns[connID] = wc
	return true
}

func (h *Handler) untrack(connID id.ConnID) {
	h.mu.Lock()
	delete(h.conns, connID)
	h.mu.Unlock()
}

func logClosed(log *zap.Logger, wc *exchange.WSConn, err error) {
	switch {
	case wc.Closed():
		log.Debug("WebSocket closed by server")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Info("WebSocket connection closed")
	default:
		log.Info("WebSocket read error", zap.Error(err))
	}
}

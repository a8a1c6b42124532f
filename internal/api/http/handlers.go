package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracebridge/internal/api/middleware"
	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
	"github.com/GriffinCanCode/tracebridge/internal/wire"
)

// Deps are the collaborators of the router.
type Deps struct {
	Engine   engine.Engine
	Loop     *exchange.Loop
	Mux      *exchange.Mux
	Sequence *exchange.SequenceMonitor
	Logger   *zap.Logger

	// WebSocket serves upgrade requests on /websocket. Nil disables the
	// tunnel; /websocket then answers 404.
	WebSocket gin.HandlerFunc

	MaxBodyBytes int64
	// Port is shown on the help page.
	Port int
}

// Handlers implements the endpoint router.
type Handlers struct {
	engine   engine.Engine
	loop     *exchange.Loop
	mux      *exchange.Mux
	seq      *exchange.SequenceMonitor
	logger   *zap.Logger
	ws       gin.HandlerFunc
	maxBody  int64
	helpPage []byte
}

// NewHandlers creates the router handlers.
func NewHandlers(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seq := d.Sequence
	if seq == nil {
		seq = exchange.NewSequenceMonitor(logger, nil)
	}
	return &Handlers{
		engine:   d.Engine,
		loop:     d.Loop,
		mux:      d.Mux,
		seq:      seq,
		logger:   logger,
		ws:       d.WebSocket,
		maxBody:  d.MaxBodyBytes,
		helpPage: []byte(HelpText(d.Port)),
	}
}

// Register mounts every route on r, including the 404 fallback.
func (h *Handlers) Register(r *gin.Engine) {
	// Paths match exactly; /status/ is unknown, not a redirect.
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleMethodNotAllowed = false

	r.GET("/", h.help)
	r.POST("/", h.help)
	r.GET("/websocket", h.websocket)

	body := middleware.BufferBody(h.maxBody)
	r.POST("/status", body, h.status)
	r.POST("/rpc", body, h.rpc)
	r.POST("/parse", body, h.parse)
	r.POST("/notify_eof", body, h.notifyEOF)
	r.POST("/restore_initial_tables", body, h.restoreInitialTables)
	r.POST("/query", body, h.query)
	r.POST("/compute_metric", body, h.computeMetric)
	r.POST("/enable_metatrace", body, h.enableMetatrace)
	r.POST("/disable_and_read_metatrace", body, h.disableAndReadMetatrace)

	r.NoRoute(h.notFound)
}

// onLoop runs fn as one loop task after recording the request's sequence
// number. It reports false when the task never ran.
func (h *Handlers) onLoop(c *gin.Context, fn func(ctx context.Context)) bool {
	ctx := c.Request.Context()
	seqHeader := c.GetHeader(exchange.SeqHeader)
	err := h.loop.Do(ctx, func() {
		h.seq.Observe(seqHeader)
		if fn != nil {
			fn(ctx)
		}
	})
	if err != nil {
		h.logger.Warn("Request dropped before reaching the engine",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		return false
	}
	return true
}

// oneShot runs call on the loop and answers 200 with its output. Engine
// errors never change the HTTP status.
func (h *Handlers) oneShot(c *gin.Context, op string, call func(ctx context.Context) ([]byte, error)) {
	var out []byte
	h.onLoop(c, func(ctx context.Context) {
		var err error
		out, err = call(ctx)
		if err != nil {
			h.logger.Error("Engine call failed",
				zap.String("op", op),
				zap.Error(err),
			)
			out = nil
		}
	})
	writeOneShot(c, http.StatusOK, out)
}

// streamed hijacks the connection and runs call inside one exchange. The
// head is written on the loop, right before the slot is taken.
func (h *Handlers) streamed(c *gin.Context, op string, call func(ctx context.Context, x *exchange.Exchange) error) {
	conn, header, err := hijack(c)
	if err != nil {
		h.logger.Error("Cannot start chunked response", zap.String("op", op), zap.Error(err))
		_ = c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	defer conn.Close()

	h.onLoop(c, func(ctx context.Context) {
		if err := conn.WriteHead(http.StatusOK, header); err != nil {
			h.logger.Info("Client gone before response head", zap.String("op", op), zap.Error(err))
			return
		}

		x := h.mux.Begin(conn)
		defer x.Release()

		if err := call(ctx, x); err != nil && !errors.Is(err, engine.ErrAborted) {
			h.logger.Error("Engine call failed",
				zap.String("op", op),
				zap.String("exchange_id", x.ID().String()),
				zap.Error(err),
			)
		}
		if err := x.Finish(); err != nil {
			h.logger.Debug("finish exchange", zap.String("op", op), zap.Error(err))
		}
	})
}

func (h *Handlers) status(c *gin.Context) {
	h.oneShot(c, "status", h.engine.Status)
}

func (h *Handlers) rpc(c *gin.Context) {
	req := middleware.Body(c)
	h.streamed(c, "rpc", func(ctx context.Context, x *exchange.Exchange) error {
		return h.engine.OnRPCRequest(ctx, req, x.Send)
	})
}

// parse reports engine failures inside AppendTraceDataResult.
func (h *Handlers) parse(c *gin.Context) {
	data := middleware.Body(c)
	var result wire.AppendTraceDataResult
	h.onLoop(c, func(ctx context.Context) {
		if err := h.engine.Parse(ctx, data); err != nil {
			result.Error = err.Error()
		}
	})
	writeOneShot(c, http.StatusOK, result.Marshal())
}

func (h *Handlers) notifyEOF(c *gin.Context) {
	h.oneShot(c, "notify_eof", func(ctx context.Context) ([]byte, error) {
		return nil, h.engine.NotifyEndOfFile(ctx)
	})
}

func (h *Handlers) restoreInitialTables(c *gin.Context) {
	h.oneShot(c, "restore_initial_tables", func(ctx context.Context) ([]byte, error) {
		return nil, h.engine.RestoreInitialTables(ctx)
	})
}

func (h *Handlers) query(c *gin.Context) {
	req := middleware.Body(c)
	h.streamed(c, "query", func(ctx context.Context, x *exchange.Exchange) error {
		return h.engine.Query(ctx, req, x.SendBatch)
	})
}

func (h *Handlers) computeMetric(c *gin.Context) {
	req := middleware.Body(c)
	h.oneShot(c, "compute_metric", func(ctx context.Context) ([]byte, error) {
		return h.engine.ComputeMetric(ctx, req)
	})
}

func (h *Handlers) enableMetatrace(c *gin.Context) {
	h.oneShot(c, "enable_metatrace", func(ctx context.Context) ([]byte, error) {
		return nil, h.engine.EnableMetatrace(ctx)
	})
}

func (h *Handlers) disableAndReadMetatrace(c *gin.Context) {
	h.oneShot(c, "disable_and_read_metatrace", h.engine.DisableAndReadMetatrace)
}

// websocket delegates real upgrade requests. Anything else on /websocket is
// an unknown request.
func (h *Handlers) websocket(c *gin.Context) {
	if h.ws == nil || !websocket.IsWebSocketUpgrade(c.Request) {
		h.notFound(c)
		return
	}
	if !h.onLoop(c, nil) {
		writeNotFound(c)
		return
	}
	h.ws(c)
}

func (h *Handlers) notFound(c *gin.Context) {
	h.onLoop(c, nil)
	writeNotFound(c)
}

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/tracebridge/internal/api/http"
	"github.com/GriffinCanCode/tracebridge/internal/api/middleware"
	"github.com/GriffinCanCode/tracebridge/internal/api/ws"
	"github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/domain/exchange"
	engineclient "github.com/GriffinCanCode/tracebridge/internal/grpc/engine"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/tracing"
)

var ErrAlreadyListening = errors.New("server: already listening")

// Option customizes a Server.
type Option func(*Server)

// WithEngine uses eng instead of dialing the configured engine address. The
// caller keeps ownership of eng.
func WithEngine(eng engine.Engine) Option {
	return func(s *Server) { s.engine = eng }
}

// Server wires the router, the exchange loop and the engine connection.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	engine     engine.Engine
	ownsEngine io.Closer
	loop       *exchange.Loop
	ws         *ws.Handler
	router     *gin.Engine
	port       int

	mu              sync.Mutex
	httpServer      *http.Server
	listener        net.Listener
	metricsServer   *http.Server
	metricsListener net.Listener
}

// New creates a server instance. Nothing listens until Listen or Run.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	port, fellBack := cfg.Server.ResolvedPort()
	if fellBack && cfg.Server.Port != "" {
		logger.Warn("Invalid port, using default",
			zap.String("port", cfg.Server.Port),
			zap.Int("default", config.DefaultPort),
		)
	}
	s.port = port

	s.metrics = monitoring.NewMetrics()
	s.tracer = tracing.New("tracebridge", logger.Component("tracing"))

	if s.engine == nil {
		client, err := engineclient.New(cfg.Engine.Address,
			engineclient.WithCallTimeout(cfg.Engine.CallTimeout),
			engineclient.WithMetrics(s.metrics),
			engineclient.WithTracer(s.tracer),
			engineclient.WithLogger(logger.Component("engine")),
		)
		if err != nil {
			s.tracer.Close()
			return nil, fmt.Errorf("failed to create engine client: %w", err)
		}
		s.engine = client
		s.ownsEngine = client
		logger.Info("Engine client configured", zap.String("addr", cfg.Engine.Address))
	}

	s.loop = exchange.NewLoop()
	s.router = s.buildRouter()
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	gate := middleware.NewGate(s.cfg.CORS.AllowedOrigins)
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(gate))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
		)
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}

	reqLogger := s.logger.Component("http")
	mux := exchange.NewMux(reqLogger, s.metrics)
	s.ws = ws.NewHandler(s.engine, s.loop, mux, gate, ws.Config{
		ReadLimit:    s.cfg.WebSocket.ReadLimit,
		WriteTimeout: s.cfg.WebSocket.WriteTimeout,
	}, s.metrics, s.logger.Component("ws"))

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Engine:       s.engine,
		Loop:         s.loop,
		Mux:          mux,
		Sequence:     exchange.NewSequenceMonitor(reqLogger, s.metrics.IncSequenceAnomalies),
		Logger:       reqLogger,
		WebSocket:    s.ws.HandleConnection,
		MaxBodyBytes: s.cfg.Server.MaxBodyBytes,
		Port:         s.port,
	})
	handlers.Register(router)
	return router
}

// Router exposes the configured gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics exposes the collector registry.
func (s *Server) Metrics() *monitoring.Metrics {
	return s.metrics
}

// Port is the resolved RPC port.
func (s *Server) Port() int {
	return s.port
}

// Addr is the bound RPC address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MetricsAddr is the bound metrics address, nil when disabled.
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metricsListener == nil {
		return nil
	}
	return s.metricsListener.Addr()
}

// Listen binds the RPC listener and, when configured, the metrics listener.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyListening
	}

	addr := s.cfg.Server.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Metrics.Address != "" {
		mln, err := net.Listen("tcp", s.cfg.Metrics.Address)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.Metrics.Address, err)
		}
		metricsRouter := gin.New()
		metricsRouter.GET("/metrics", gin.WrapH(s.metrics.Handler()))
		s.metricsServer = &http.Server{Handler: metricsRouter, ReadHeaderTimeout: 10 * time.Second}
		s.metricsListener = mln
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return nil
}

// Serve handles requests until ctx is done, then shuts down. Listen must
// have been called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.httpServer, s.listener
	msrv, mln := s.metricsServer, s.metricsListener
	s.mu.Unlock()
	if srv == nil {
		return errors.New("server: Serve called before Listen")
	}

	s.logBanner(ln.Addr())

	errCh := make(chan error, 2)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("rpc server: %w", err)
		}
	}()
	if msrv != nil {
		s.logger.Info("Metrics endpoint enabled", zap.String("addr", mln.Addr().String()))
		go func() {
			if err := msrv.Serve(mln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		s.logger.Error("Server error", zap.Error(serveErr))
	}

	if err := s.shutdown(); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Run listens and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) logBanner(addr net.Addr) {
	s.logger.Info("[HTTP] Starting RPC server", zap.String("addr", addr.String()))
	s.logger.Info("[HTTP] This server can be used by reloading https://ui.perfetto.dev and clicking on YES on the \"Trace Processor native acceleration\" dialog")
	s.logger.Info("[HTTP] Or from the Python API",
		zap.String("example", fmt.Sprintf("perfetto.TraceProcessor(addr='localhost:%d')", s.port)),
	)
}

// shutdown stops accepting requests, waits for in-flight handlers, then
// drains the exchange loop. Hijacked connections are not tracked by
// http.Server: the loop waits for chunked responses, and open WebSocket
// connections get a going-away frame once the loop has stopped.
func (s *Server) shutdown() error {
	s.logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rpc server shutdown: %w", err))
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	s.loop.Close()
	if n := s.ws.CloseAll(); n > 0 {
		s.logger.Info("Closed WebSocket connections", zap.Int("count", n))
	}
	if s.ownsEngine != nil {
		if err := s.ownsEngine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine client: %w", err))
		}
		s.logger.Info("Closed engine connection")
	}
	s.tracer.Close()
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// Close releases resources of a server that was never served.
func (s *Server) Close() error {
	s.mu.Lock()
	ln, mln := s.listener, s.metricsListener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	if mln != nil {
		mln.Close()
	}
	s.loop.Close()
	s.ws.CloseAll()
	s.tracer.Close()
	if s.ownsEngine != nil {
		return s.ownsEngine.Close()
	}
	return nil
}

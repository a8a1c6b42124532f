package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/tracebridge/internal/wire"
)

// maxMessageSize bounds a single engine message; trace chunks and query
// batches are far smaller, but status and metatrace payloads can be large.
const maxMessageSize = 256 << 20

// ParseError is an engine-side failure to ingest trace data.
type ParseError struct {
	Message string
}

func (e *ParseError) Error() string { return e.Message }

// Client implements the engine contract over gRPC with a circuit breaker.
type Client struct {
	conn        *grpc.ClientConn
	addr        string
	breaker     *resilience.Breaker
	callTimeout time.Duration
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

var _ domain.Engine = (*Client)(nil)

type options struct {
	callTimeout time.Duration
	metrics     *monitoring.Metrics
	tracer      *tracing.Tracer
	logger      *zap.Logger
	dialOptions []grpc.DialOption
}

// Option configures a Client.
type Option func(*options)

// WithCallTimeout bounds unary calls. Streams are bounded by the caller's
// context only.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracer propagates trace context to the engine.
func WithTracer(t *tracing.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialOptions appends raw dial options, for example a custom dialer.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}

// New creates an engine client. The connection is established lazily.
func New(addr string, opts ...Option) (*Client, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                60 * time.Second,
			Timeout:             20 * time.Second,
			PermitWithoutStream: false,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	}
	if o.tracer != nil {
		dialOpts = append(dialOpts,
			grpc.WithChainUnaryInterceptor(tracing.GRPCUnaryClientInterceptor(o.tracer)),
			grpc.WithChainStreamInterceptor(tracing.GRPCStreamClientInterceptor(o.tracer)),
		)
	}
	dialOpts = append(dialOpts, o.dialOptions...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}

	logger := o.logger.With(zap.String("engine_addr", addr))
	breaker := resilience.New("engine", resilience.Settings{
		MaxProbes: 1,
		Interval:  30 * time.Second,
		Cooldown:  5 * time.Second,
		ShouldTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsFailure: isEngineFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Engine circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		conn:        conn,
		addr:        addr,
		breaker:     breaker,
		callTimeout: o.callTimeout,
		metrics:     o.metrics,
		logger:      logger,
	}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Addr returns the engine address.
func (c *Client) Addr() string {
	return c.addr
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// isEngineFailure counts only errors that say the engine is unhealthy.
// Client-side aborts and cancellations do not trip the breaker.
func isEngineFailure(err error) bool {
	if err == nil || errors.Is(err, domain.ErrAborted) || errors.Is(err, context.Canceled) {
		return false
	}
	switch status.Code(err) {
	case codes.Canceled, codes.InvalidArgument, codes.NotFound:
		return false
	}
	return true
}

func (c *Client) invoke(ctx context.Context, method string, in, out any) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	timer := monitoring.NewTimer(c.metrics, method)
	err := c.breaker.Execute(func() error {
		return c.conn.Invoke(ctx, method, in, out)
	})
	timer.Stop(err)
	return c.wrap(method, err)
}

func (c *Client) wrap(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	if status.Code(err) == codes.Unavailable {
		return fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, method, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// stream opens a server stream, sends in and hands every received payload
// to each. A clean end of stream returns two nil errors. An error from each
// stops the stream and comes back as sinkErr; it is not held against the
// engine.
func (c *Client) stream(ctx context.Context, desc *grpc.StreamDesc, method string, in []byte, each func([]byte) error) (sinkErr, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := monitoring.NewTimer(c.metrics, method)
	err = c.breaker.Execute(func() error {
		cs, err := c.conn.NewStream(ctx, desc, method)
		if err != nil {
			return err
		}
		if err := cs.SendMsg(wrapperspb.Bytes(in)); err != nil {
			return err
		}
		if err := cs.CloseSend(); err != nil {
			return err
		}
		for {
			msg := new(wrapperspb.BytesValue)
			if err := cs.RecvMsg(msg); err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			payload := msg.GetValue()
			if payload == nil {
				payload = []byte{}
			}
			if err := each(payload); err != nil {
				sinkErr = err
				return nil
			}
		}
	})
	timer.Stop(err)
	return sinkErr, err
}

// OnRPCRequest forwards one tunnelled RPC. A transport or engine failure is
// reported to respond as the nil chunk; a respond error cancels the stream.
func (c *Client) OnRPCRequest(ctx context.Context, req []byte, respond domain.ResponseFunc) error {
	sinkErr, err := c.stream(ctx, &rpcStreamDesc, MethodOnRPCRequest, req, func(chunk []byte) error {
		return respond(chunk)
	})
	if sinkErr != nil {
		return sinkErr
	}
	if err != nil {
		c.logger.Warn("Engine RPC stream failed", zap.Error(err))
		if rerr := respond(nil); rerr != nil && !errors.Is(rerr, domain.ErrAborted) {
			c.logger.Debug("respond after stream failure", zap.Error(rerr))
		}
		return c.wrap(MethodOnRPCRequest, err)
	}
	return nil
}

// Query streams result batches. Each stream message is a wire.QueryBatch
// and is handed to onBatch as soon as it arrives. A stream that ends cleanly
// without a final batch gets an empty final batch. A malformed envelope is
// treated as a stream failure.
func (c *Client) Query(ctx context.Context, req []byte, onBatch domain.QueryFunc) error {
	var (
		decodeErr error
		finished  bool
	)
	sinkErr, err := c.stream(ctx, &queryStreamDesc, MethodQuery, req, func(msg []byte) error {
		batch, err := wire.UnmarshalQueryBatch(msg)
		if err != nil {
			decodeErr = err
			return err
		}
		finished = !batch.HasMore
		return onBatch(batch.Data, batch.HasMore)
	})
	if decodeErr != nil {
		err, sinkErr = decodeErr, nil
	}
	if sinkErr != nil {
		return sinkErr
	}
	if err != nil {
		c.logger.Warn("Engine query stream failed", zap.Error(err))
		_ = onBatch(nil, false)
		return c.wrap(MethodQuery, err)
	}
	if !finished {
		return onBatch([]byte{}, false)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, MethodStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

// Parse appends trace data. An engine-side parse failure is returned as
// *ParseError.
func (c *Client) Parse(ctx context.Context, data []byte) error {
	out := new(wrapperspb.StringValue)
	if err := c.invoke(ctx, MethodParse, wrapperspb.Bytes(data), out); err != nil {
		return err
	}
	if msg := out.GetValue(); msg != "" {
		return &ParseError{Message: msg}
	}
	return nil
}

func (c *Client) NotifyEndOfFile(ctx context.Context) error {
	return c.invoke(ctx, MethodNotifyEndOfFile, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) RestoreInitialTables(ctx context.Context) error {
	return c.invoke(ctx, MethodRestoreInitialTables, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) ComputeMetric(ctx context.Context, req []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, MethodComputeMetric, wrapperspb.Bytes(req), out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

func (c *Client) EnableMetatrace(ctx context.Context) error {
	return c.invoke(ctx, MethodEnableMetatrace, &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *Client) DisableAndReadMetatrace(ctx context.Context) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.invoke(ctx, MethodDisableAndReadMetatrace, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.GetValue(), nil
}

package tracing

import (
	"context"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	mdTraceID = "x-trace-id"
	mdSpanID  = "x-span-id"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing. Trace headers are
// set before the handler runs so hijacked responses can copy them.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithTrace(c.Request.Context(),
			TraceID(c.GetHeader(HeaderTraceID)),
			SpanID(c.GetHeader(HeaderSpanID)),
		)

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, span.SpanID.String())

		c.Next()

		span.SetStatus(c.Writer.Status())
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

func fromIncoming(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}
	var traceID TraceID
	var spanID SpanID
	if vals := md.Get(mdTraceID); len(vals) > 0 {
		traceID = TraceID(vals[0])
	}
	if vals := md.Get(mdSpanID); len(vals) > 0 {
		spanID = SpanID(vals[0])
	}
	return WithTrace(ctx, traceID, spanID)
}

func toOutgoing(ctx context.Context) context.Context {
	pairs := make([]string, 0, 4)
	if traceID := GetTraceID(ctx); traceID != "" {
		pairs = append(pairs, mdTraceID, string(traceID))
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		pairs = append(pairs, mdSpanID, spanID.String())
	}
	if len(pairs) == 0 {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}

func finishRPC(tracer *Tracer, span *Span, err error) {
	if err != nil {
		span.SetError(err)
	}
	span.Finish()
	tracer.Submit(span)
}

// GRPCUnaryClientInterceptor propagates trace context to the engine.
func GRPCUnaryClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")

		err := invoker(toOutgoing(ctx), method, req, reply, cc, opts...)
		finishRPC(tracer, span, err)
		return err
	}
}

// GRPCStreamClientInterceptor propagates trace context on streaming calls.
// The span covers stream setup only.
func GRPCStreamClientInterceptor(tracer *Tracer) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")
		span.SetTag("rpc.streaming", "true")

		stream, err := streamer(toOutgoing(ctx), desc, cc, method, opts...)
		finishRPC(tracer, span, err)
		return stream, err
	}
}

// GRPCUnaryServerInterceptor continues an incoming trace.
func GRPCUnaryServerInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		span, ctx := tracer.StartSpan(fromIncoming(ctx), info.FullMethod)
		span.SetTag("rpc.system", "grpc")

		resp, err := handler(ctx, req)
		finishRPC(tracer, span, err)
		return resp, err
	}
}

// GRPCStreamServerInterceptor continues an incoming trace on a stream.
func GRPCStreamServerInterceptor(tracer *Tracer) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		span, ctx := tracer.StartSpan(fromIncoming(ss.Context()), info.FullMethod)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.streaming", "true")

		err := handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})
		finishRPC(tracer, span, err)
		return err
	}
}

type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}

/*
Package tracing provides lightweight request tracing across the bridge and
the analysis engine.

Trace context travels as X-Trace-ID / X-Span-ID HTTP headers and as
x-trace-id / x-span-id gRPC metadata. Finished spans are logged at debug
level by a collector goroutine; spans with errors are logged at warn.

# Usage

	tracer := tracing.New("tracebridge", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCUnaryClientInterceptor(tracer)),
		grpc.WithStreamInterceptor(tracing.GRPCStreamClientInterceptor(tracer)),
	)
*/
package tracing

package engine

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	domain "github.com/GriffinCanCode/tracebridge/internal/domain/engine"
	"github.com/GriffinCanCode/tracebridge/internal/wire"
)

// ServiceName is the fully qualified gRPC service exposed by the engine.
const ServiceName = "tracebridge.engine.v1.Engine"

// Full method names.
const (
	MethodOnRPCRequest            = "/" + ServiceName + "/OnRPCRequest"
	MethodStatus                  = "/" + ServiceName + "/Status"
	MethodParse                   = "/" + ServiceName + "/Parse"
	MethodNotifyEndOfFile         = "/" + ServiceName + "/NotifyEndOfFile"
	MethodRestoreInitialTables    = "/" + ServiceName + "/RestoreInitialTables"
	MethodQuery                   = "/" + ServiceName + "/Query"
	MethodComputeMetric           = "/" + ServiceName + "/ComputeMetric"
	MethodEnableMetatrace         = "/" + ServiceName + "/EnableMetatrace"
	MethodDisableAndReadMetatrace = "/" + ServiceName + "/DisableAndReadMetatrace"
)

// errRPCFailure is the status an engine stream ends with when the engine
// signals an unrecoverable failure.
var errRPCFailure = status.Error(codes.Internal, "engine: unrecoverable rpc failure")

var rpcStreamDesc = grpc.StreamDesc{StreamName: "OnRPCRequest", ServerStreams: true}
var queryStreamDesc = grpc.StreamDesc{StreamName: "Query", ServerStreams: true}

// serviceDesc describes the engine service. Payloads are opaque bytes
// carried in well-known wrapper messages, so no generated code is needed.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*domain.Engine)(nil),
	Methods: []grpc.MethodDesc{
		unary("Status", emptyReq, func(ctx context.Context, e domain.Engine, _ *emptypb.Empty) (proto.Message, error) {
			b, err := e.Status(ctx)
			return wrapperspb.Bytes(b), err
		}),
		unary("Parse", bytesReq, func(ctx context.Context, e domain.Engine, in *wrapperspb.BytesValue) (proto.Message, error) {
			// Parse failures are data, not transport errors.
			if err := e.Parse(ctx, in.GetValue()); err != nil {
				return wrapperspb.String(err.Error()), nil
			}
			return wrapperspb.String(""), nil
		}),
		unary("NotifyEndOfFile", emptyReq, func(ctx context.Context, e domain.Engine, _ *emptypb.Empty) (proto.Message, error) {
			return &emptypb.Empty{}, e.NotifyEndOfFile(ctx)
		}),
		unary("RestoreInitialTables", emptyReq, func(ctx context.Context, e domain.Engine, _ *emptypb.Empty) (proto.Message, error) {
			return &emptypb.Empty{}, e.RestoreInitialTables(ctx)
		}),
		unary("ComputeMetric", bytesReq, func(ctx context.Context, e domain.Engine, in *wrapperspb.BytesValue) (proto.Message, error) {
			b, err := e.ComputeMetric(ctx, in.GetValue())
			return wrapperspb.Bytes(b), err
		}),
		unary("EnableMetatrace", emptyReq, func(ctx context.Context, e domain.Engine, _ *emptypb.Empty) (proto.Message, error) {
			return &emptypb.Empty{}, e.EnableMetatrace(ctx)
		}),
		unary("DisableAndReadMetatrace", emptyReq, func(ctx context.Context, e domain.Engine, _ *emptypb.Empty) (proto.Message, error) {
			b, err := e.DisableAndReadMetatrace(ctx)
			return wrapperspb.Bytes(b), err
		}),
	},
	Streams: []grpc.StreamDesc{
		{StreamName: rpcStreamDesc.StreamName, ServerStreams: true, Handler: serveRPC},
		{StreamName: queryStreamDesc.StreamName, ServerStreams: true, Handler: serveQuery},
	},
	Metadata: "tracebridge/engine/v1/engine.proto",
}

// RegisterServer exposes impl on s. It lets an in-process engine, or a test
// double, be served to a remote bridge. Query batches travel as
// wire.QueryBatch envelopes carrying the hasMore flag.
func RegisterServer(s grpc.ServiceRegistrar, impl domain.Engine) {
	s.RegisterService(&serviceDesc, impl)
}

func emptyReq() *emptypb.Empty           { return new(emptypb.Empty) }
func bytesReq() *wrapperspb.BytesValue { return new(wrapperspb.BytesValue) }

func unary[Req proto.Message](
	name string,
	newReq func() Req,
	call func(ctx context.Context, e domain.Engine, in Req) (proto.Message, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				out, err := call(ctx, srv.(domain.Engine), req.(Req))
				if err != nil {
					return nil, toStatus(err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

func serveRPC(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	failed := false
	err := srv.(domain.Engine).OnRPCRequest(stream.Context(), in.GetValue(), func(chunk []byte) error {
		if chunk == nil {
			failed = true
			return domain.ErrAborted
		}
		return stream.SendMsg(wrapperspb.Bytes(chunk))
	})
	if failed {
		return errRPCFailure
	}
	return toStatus(err)
}

func serveQuery(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.BytesValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	failed := false
	err := srv.(domain.Engine).Query(stream.Context(), in.GetValue(), func(batch []byte, hasMore bool) error {
		if batch == nil {
			failed = true
			return domain.ErrAborted
		}
		return stream.SendMsg(wrapperspb.Bytes(wire.QueryBatch{Data: batch, HasMore: hasMore}.Marshal()))
	})
	if failed {
		return errRPCFailure
	}
	return toStatus(err)
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

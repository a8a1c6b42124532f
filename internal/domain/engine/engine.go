// Package engine defines the contract between the transport front end and the
// trace analysis engine.
//
// The engine is opaque: it consumes serialized request bytes and produces
// response bytes. Streaming operations hand their output to a caller-supplied
// sink, invoked synchronously zero or more times before the operation
// returns. No sink call ever happens after the operation has returned.
package engine

import (
	"context"
	"errors"
)

var (
	// ErrAborted is returned by a sink when the exchange it feeds has ended
	// (client gone, connection closed). Engines stop producing on any sink
	// error.
	ErrAborted = errors.New("engine: exchange aborted")

	// ErrUnavailable reports that the engine cannot be reached.
	ErrUnavailable = errors.New("engine: unavailable")
)

// ResponseFunc receives one chunk of tunnel output. A nil chunk signals an
// unrecoverable RPC failure and terminates the exchange.
type ResponseFunc func(chunk []byte) error

// QueryFunc receives one batch of query results. hasMore is false on the
// final batch, after which the exchange is complete.
type QueryFunc func(batch []byte, hasMore bool) error

// Engine is the analysis engine as seen by the router. Implementations are
// single-flight: callers never invoke two operations concurrently.
type Engine interface {
	// OnRPCRequest executes one tunnelled RPC. respond is called one or more
	// times with the serialized response.
	OnRPCRequest(ctx context.Context, req []byte, respond ResponseFunc) error

	// Status returns the serialized engine status.
	Status(ctx context.Context) ([]byte, error)

	// Parse appends trace data. A non-nil error is an engine-level parse
	// failure and is reported in-band to the client.
	Parse(ctx context.Context, data []byte) error

	NotifyEndOfFile(ctx context.Context) error
	RestoreInitialTables(ctx context.Context) error

	// Query runs a query and streams result batches to onBatch.
	Query(ctx context.Context, req []byte, onBatch QueryFunc) error

	ComputeMetric(ctx context.Context, req []byte) ([]byte, error)
	EnableMetatrace(ctx context.Context) error
	DisableAndReadMetatrace(ctx context.Context) ([]byte, error)
}

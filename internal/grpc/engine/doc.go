/*
Package engine connects the bridge to a trace analysis engine over gRPC.

The engine service is described by a hand-written grpc.ServiceDesc whose
payloads are opaque bytes in protobuf wrapper messages:

	OnRPCRequest            BytesValue -> stream BytesValue
	Query                   BytesValue -> stream BytesValue
	Status                  Empty      -> BytesValue
	Parse                   BytesValue -> StringValue (empty on success)
	NotifyEndOfFile         Empty      -> Empty
	RestoreInitialTables    Empty      -> Empty
	ComputeMetric           BytesValue -> BytesValue
	EnableMetatrace         Empty      -> Empty
	DisableAndReadMetatrace Empty      -> BytesValue

A stream that ends with a non-OK status is the unrecoverable-failure signal;
Client turns it into the nil chunk. RegisterServer serves any engine
implementation, which is how tests and embedded engines are wired.
*/
package engine

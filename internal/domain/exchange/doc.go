// Package exchange turns engine output into wire bytes.
//
// An exchange is one request/response cycle: a one-shot HTTP call, a chunked
// HTTP stream, or one WebSocket message. At most one exchange is active in
// the whole process. The Mux owns that slot; Begin acquires it and the
// returned Exchange releases it.
//
// Framing per transport:
//
//	chunked HTTP   <hex-len>\r\n<bytes>\r\n ... 0\r\n\r\n
//	WebSocket      one binary message per chunk, no terminator
//
// Typical use from a loop task:
//
//	ex := mux.Begin(conn)
//	defer ex.Release()
//	err := eng.OnRPCRequest(ctx, body, ex.Send)
//	ex.Finish()
package exchange

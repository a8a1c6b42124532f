// Package ws implements the WebSocket RPC tunnel.
//
// The handshake is gated on the CORS allow-list: only a listed origin is
// accepted. Anything else, including a request without an Origin header,
// gets 403. Each accepted connection gets a conn_id for its log lines, and
// CloseAll sends going-away frames to every open connection on shutdown.
// Each inbound binary message is one tunnelled RPC; its output goes back as
// one binary message per engine chunk.
//
// Example Usage:
//
//	h := ws.NewHandler(eng, loop, mux, gate, ws.Config{ReadLimit: 128 << 20}, metrics, logger)
//	router.GET("/websocket", h.HandleConnection)
package ws

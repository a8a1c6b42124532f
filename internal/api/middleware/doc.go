// Package middleware provides the gin middleware in front of the RPC routes.
//
//   - Gate: exact-match origin allow-list, used by the WebSocket handshake
//   - CORS: Access-Control-* decoration for allow-listed origins only
//   - GlobalRateLimit: one token bucket for the whole service
//   - BufferBody: full request body read with gzip/zstd decoding and a size cap
//
// Example Usage:
//
//	gate := middleware.NewGate(cfg.CORS.AllowedOrigins)
//	router.Use(middleware.CORS(gate))
//	rpc := router.Group("/", middleware.BufferBody(cfg.Server.MaxBodyBytes))
package middleware

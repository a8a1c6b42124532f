// Package server assembles the RPC front end: gin router and middleware,
// the exchange loop, the WebSocket tunnel and the engine client, plus an
// optional Prometheus listener.
//
// Shutdown order matters. http.Server.Shutdown does not track hijacked
// connections, so after it returns the exchange loop is closed, which waits
// for a chunked response still being written.
//
// Example Usage:
//
//	srv, err := server.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server

// Package http provides the endpoint router of the RPC front end.
//
// Every route is matched by exact path. Engine calls run as tasks on the
// exchange loop, so at most one request touches the engine at a time.
//
// Endpoints:
//   - Help: GET/POST /
//   - Tunnel: /rpc (chunked), /websocket (upgrade)
//   - One-shot: /status, /parse, /notify_eof, /restore_initial_tables,
//     /compute_metric, /enable_metatrace, /disable_and_read_metatrace
//   - Streaming: /query (chunked)
//   - Anything else: 404 with the standard headers
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Deps{Engine: eng, Loop: loop, Mux: mux})
//	handlers.Register(router)
package http

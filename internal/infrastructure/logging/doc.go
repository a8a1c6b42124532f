// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive named children so every line carries its origin:
//
//	logger, _ := logging.New(logging.Config{Level: "info"})
//	httpLog := logger.Component("http")
//	httpLog.Info("Starting RPC server", zap.String("addr", "127.0.0.1:9001"))
package logging

// Package config loads tracebridge configuration.
//
// Sources, lowest precedence first:
//   - Default()
//   - an optional YAML (.yaml, .yml) or TOML (.toml) file
//   - environment variables (PORT, HOST, ENGINE_ADDR, CORS_ALLOWED_ORIGINS, ...)
//
// Command line flags are applied on top by cmd/tracebridge.
package config

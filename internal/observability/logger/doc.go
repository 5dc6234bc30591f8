// Package logger provides a singleton Zap logger with context-based scoping.
//
// One global instance is initialized with Init() at process start. HTTP
// middleware injects a request-scoped logger (request_id, method, path) into
// the context; any layer below retrieves it with From(ctx) and falls back to
// the singleton when no middleware ran.
//
// "dev" environment logs colored console output, "prod" logs JSON.
//
// Access tokens, refresh tokens and ciphertext must never be passed to any
// field constructor in this package.
package logger

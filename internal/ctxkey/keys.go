// Package ctxkey holds context key types shared across packages without
// import cycles.
package ctxkey

// LoggerKey is the context key for the request-scoped *slog.Logger.
type LoggerKey struct{}

// RequestIDKey is the context key for the request ID string.
type RequestIDKey struct{}

// ClientIPKey is the context key for the resolved client IP string.
type ClientIPKey struct{}

// DeviceKeyKey is the context key for the device key presented with a request.
type DeviceKeyKey struct{}

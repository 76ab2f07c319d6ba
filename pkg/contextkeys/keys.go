// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so that the HTTP
// layer, the access controller and the audit log agree on them.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithUserID(ctx, 42)
//	userID, ok := contextkeys.GetUserID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request id string (UUID)
	// Set by: httputil.RequestIDMiddleware, audit.WithRequestID
	// Used by: access log entries, logger fields
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user id
	// Set by: the embedding application's authentication layer
	// Used by: access.RequirePermission
	// Type: int64
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.WithLogger
	// Used by: handlers that log with request fields
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetLogger retrieves the raw logger value from context
func GetLogger(ctx context.Context) interface{} {
	return ctx.Value(LoggerKey)
}

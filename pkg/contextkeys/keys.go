// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: HTTP middleware (pkg/api/server.go)
	// Used by: Logger, error responses
	// Type: string
	RequestIDKey Key = "request_id"

	// PassportIDKey contains the passport ID acting in this request
	// Set by: Handlers after parsing the passport from path or body
	// Used by: Logger
	// Type: string
	PassportIDKey Key = "passport_id"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithPassportID adds passport ID to the context
func WithPassportID(ctx context.Context, passportID string) context.Context {
	return context.WithValue(ctx, PassportIDKey, passportID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetPassportID retrieves passport ID from context
func GetPassportID(ctx context.Context) string {
	if passportID, ok := ctx.Value(PassportIDKey).(string); ok {
		return passportID
	}
	return ""
}

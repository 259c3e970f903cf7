// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains the session.Session snapshot for the request
	// Set by: guard middleware (pkg/guard)
	// Required by: page handlers (pkg/web)
	SessionKey Key = "session"

	// RequestIDKey contains request ID string (UUID)
	// Set by: web router middleware
	// Used by: Logger
	RequestIDKey Key = "request_id"

	// SubjectKey contains the authenticated subject (user id) string
	// Set by: guard middleware after the session check
	// Used by: Logger, page handlers
	SubjectKey Key = "subject"
)

// WithSession adds the session snapshot to the context
func WithSession(ctx context.Context, sess interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, sess)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithSubject adds the authenticated subject to the context
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, SubjectKey, subject)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSubject retrieves the authenticated subject from context
func GetSubject(ctx context.Context) string {
	if subject, ok := ctx.Value(SubjectKey).(string); ok {
		return subject
	}
	return ""
}

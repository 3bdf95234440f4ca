package logging

import (
	"context"
)

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	instanceIDKey contextKey = "instance_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithInstanceID adds the instance being operated on to the context
func WithInstanceID(ctx context.Context, instanceID string) context.Context {
	return context.WithValue(ctx, instanceIDKey, instanceID)
}

// extractContextFields extracts logging fields from context
func extractContextFields(ctx context.Context) []interface{} {
	var fields []interface{}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if instanceID, ok := ctx.Value(instanceIDKey).(string); ok && instanceID != "" {
		fields = append(fields, "instance_id", instanceID)
	}

	return fields
}

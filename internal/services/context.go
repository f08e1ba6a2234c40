package services

import "context"

type contextKey string

const (
	entityKey    contextKey = "entity"
	operationKey contextKey = "operation"
	requestIDKey contextKey = "request_id"
)

// WithEntity annotates context with the fullname of the entity being operated on.
func WithEntity(ctx context.Context, fullname string) context.Context {
	if fullname == "" {
		return ctx
	}
	return context.WithValue(ctx, entityKey, fullname)
}

// EntityFromContext returns the entity fullname if present.
func EntityFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(entityKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithOperation annotates context with the transition operation name.
func WithOperation(ctx context.Context, op string) context.Context {
	if op == "" {
		return ctx
	}
	return context.WithValue(ctx, operationKey, op)
}

// OperationFromContext returns the operation name if present.
func OperationFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(operationKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

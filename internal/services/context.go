package services

import "context"

type contextKey string

const (
	runIDKey     contextKey = "run_id"
	batchKey     contextKey = "batch"
	componentKey contextKey = "component"
	requestIDKey contextKey = "request_id"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithBatch annotates context with the sample batch key a run belongs to.
func WithBatch(ctx context.Context, batch string) context.Context {
	if batch == "" {
		return ctx
	}
	return context.WithValue(ctx, batchKey, batch)
}

// BatchFromContext returns the batch key if present.
func BatchFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(batchKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithComponent annotates context with the emitting component name.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey, component)
}

// ComponentFromContext returns the component name if present.
func ComponentFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(componentKey).(string); ok && v != "" {
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

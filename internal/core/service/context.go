package service

import (
	"context"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	eventSourceKey
)

// WithCorrelationID tags mutations made with ctx with the caller's request id.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if correlationID == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

func WithEventSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, eventSourceKey, source)
}

// EventSourceFromContext defaults to domain.EventSourceAPI.
func EventSourceFromContext(ctx context.Context) string {
	if src, ok := ctx.Value(eventSourceKey).(string); ok && src != "" {
		return src
	}
	return domain.EventSourceAPI
}

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

// Mock kafka writer
type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func (m *mockWriter) Close() error { return nil }

func TestPublish_EncodesEventAndKey(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaEventPublisher{writer: w}

	details := "stock cannot be negative"
	ev := domain.MutationEvent{
		EventID:       "e-1",
		ProductID:     "p-1",
		StoreID:       "s-1",
		Quantity:      7,
		MutationType:  domain.MutationSale,
		Source:        domain.EventSourceAPI,
		CorrelationID: "c-1",
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:        domain.EventFailed,
		ErrorDetails:  &details,
	}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "p-1:s-1", string(msg.Key))

	var decoded MutationEventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "SALE", decoded.MutationType)
	assert.Equal(t, "FAILED", decoded.Status)
	require.NotNil(t, decoded.ErrorDetails)
	assert.Equal(t, details, *decoded.ErrorDetails)
	assert.Equal(t, "SALE", NewHeaderCarrier(&msg.Headers).Get("event-type"))
}

func TestPublish_WrapsWriterError(t *testing.T) {
	p := &KafkaEventPublisher{writer: &mockWriter{err: errors.New("no brokers")}}

	err := p.Publish(context.Background(), domain.MutationEvent{EventID: "e-9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e-9")
}

func TestHeaderCarrier_PropagatesTraceContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	prop := propagation.TraceContext{}
	prop.Inject(ctx, NewHeaderCarrier(&headers))
	require.NotEmpty(t, headers)

	out := trace.SpanContextFromContext(prop.Extract(context.Background(), NewHeaderCarrier(&headers)))
	assert.Equal(t, traceID, out.TraceID())
	assert.Equal(t, spanID, out.SpanID())
}

func TestHeaderCarrier_SetOverwrites(t *testing.T) {
	var headers []kafka.Header
	c := NewHeaderCarrier(&headers)

	c.Set("k", "1")
	c.Set("k", "2")
	assert.Equal(t, "2", c.Get("k"))
	assert.Equal(t, []string{"k"}, c.Keys())
}

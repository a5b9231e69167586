package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MutationEventMessage is the wire form of a settled mutation event.
type MutationEventMessage struct {
	EventID       string    `json:"eventId"`
	ProductID     string    `json:"productId"`
	StoreID       string    `json:"storeId"`
	Quantity      int       `json:"quantity"`
	MutationType  string    `json:"mutationType"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
	ErrorDetails  *string   `json:"errorDetails,omitempty"`
}

// KafkaEventPublisher emits settled events keyed by product and store, so
// events of one stock key stay ordered within a partition.
type KafkaEventPublisher struct {
	writer messageWriter
}

func NewKafkaEventPublisher(brokers []string, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.MutationEvent) error {
	payload, err := json.Marshal(toMessage(event))
	if err != nil {
		return errors.Wrap(err, "encode mutation event")
	}

	msg := kafka.Message{
		Key:   []byte(event.ProductID + ":" + event.StoreID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.MutationType)},
		},
	}
	otel.GetTextMapPropagator().Inject(ctx, HeaderCarrier{headers: &msg.Headers})

	return errors.Wrapf(p.writer.WriteMessages(ctx, msg), "publish event %s", event.EventID)
}

func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(e domain.MutationEvent) MutationEventMessage {
	return MutationEventMessage{
		EventID:       e.EventID,
		ProductID:     e.ProductID,
		StoreID:       e.StoreID,
		Quantity:      e.Quantity,
		MutationType:  string(e.MutationType),
		Source:        e.Source,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp,
		Status:        string(e.Status),
		ErrorDetails:  e.ErrorDetails,
	}
}

// HeaderCarrier adapts kafka headers to the otel propagation API.
type HeaderCarrier struct {
	headers *[]kafka.Header
}

var _ propagation.TextMapCarrier = HeaderCarrier{}

func NewHeaderCarrier(headers *[]kafka.Header) HeaderCarrier {
	return HeaderCarrier{headers: headers}
}

func (c HeaderCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

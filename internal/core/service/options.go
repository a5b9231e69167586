package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/port"
)

const tracerName = "github.com/rl1809/inventory-service/internal/core/service"

// Option configures the services in this package.
type Option func(*options)

type options struct {
	logger        zerolog.Logger
	metrics       Metrics
	tracer        trace.Tracer
	clock         func() time.Time
	newID         func() string
	retry         RetryPolicy
	autoCreateMax int
	createMin     int
	createMax     int
	events        EventRecorder
	publisher     port.EventPublisher
}

func defaultOptions() options {
	return options{
		logger:        zerolog.Nop(),
		metrics:       nopMetrics{},
		tracer:        otel.Tracer(tracerName),
		clock:         time.Now,
		newID:         uuid.NewString,
		retry:         DefaultRetryPolicy(),
		autoCreateMax: domain.AutoCreateMaximumStockLevel,
		createMin:     domain.DefaultMinimumStockLevel,
		createMax:     domain.DefaultMaximumStockLevel,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock replaces time.Now, mainly for expiry tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithStockLevels sets the levels used by CreateStock and the cap given to
// records created on first mutation.
func WithStockLevels(createMin, createMax, autoCreateMax int) Option {
	return func(o *options) {
		o.createMin = createMin
		o.createMax = createMax
		o.autoCreateMax = autoCreateMax
	}
}

// WithEventRecorder enables mutation-event bookkeeping on stock updates.
func WithEventRecorder(r EventRecorder) Option {
	return func(o *options) { o.events = r }
}

// WithEventPublisher forwards settled events downstream.
func WithEventPublisher(p port.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/inventory-service/internal/core/domain"
)

const namespace = "inventory"

// Recorder exports engine and lifecycle observations to Prometheus.
type Recorder struct {
	attempts     *prometheus.CounterVec
	conflicts    *prometheus.CounterVec
	mutations    *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	reservations *prometheus.CounterVec
	events       *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_attempts_total",
			Help:      "Read-compute-save attempts made by the stock engine.",
		}, []string{"op"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "version_conflicts_total",
			Help:      "Conditional saves that lost to a concurrent writer.",
		}, []string{"op"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Completed stock engine calls by outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mutation_duration_seconds",
			Help:      "Wall time of stock engine calls, retries included.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"op"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Reservation status changes by target status.",
		}, []string{"status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutation_events_settled_total",
			Help:      "Mutation events settled by final status.",
		}, []string{"status"}),
	}
	reg.MustRegister(r.attempts, r.conflicts, r.mutations, r.latency, r.reservations, r.events)
	return r
}

func (r *Recorder) MutationAttempt(op string) {
	r.attempts.WithLabelValues(op).Inc()
}

func (r *Recorder) VersionConflict(op string) {
	r.conflicts.WithLabelValues(op).Inc()
}

func (r *Recorder) MutationCompleted(op, outcome string, elapsed time.Duration) {
	r.mutations.WithLabelValues(op, outcome).Inc()
	r.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (r *Recorder) ReservationTransition(status domain.ReservationStatus) {
	r.reservations.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) EventSettled(status domain.EventStatus) {
	r.events.WithLabelValues(string(status)).Inc()
}

package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Probe checks one backend the service depends on.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// GRPCHandler serves the standard gRPC health protocol. The overall status
// and the per-probe services are refreshed by Watch.
type GRPCHandler struct {
	health  *health.Server
	probes  []Probe
	timeout time.Duration
	log     zerolog.Logger
}

func NewGRPCHandler(log zerolog.Logger, probes ...Probe) *GRPCHandler {
	return &GRPCHandler{
		health:  health.NewServer(),
		probes:  probes,
		timeout: 2 * time.Second,
		log:     log.With().Str("component", "grpc_health").Logger(),
	}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Check runs every probe once and publishes the result. It returns true when
// all probes passed.
func (h *GRPCHandler) Check(ctx context.Context) bool {
	healthy := true
	for _, p := range h.probes {
		pctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := p.Check(pctx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			h.log.Warn().Err(err).Str("probe", p.Name).Msg("health probe failed")
		}
		h.health.SetServingStatus(p.Name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", overall)
	return healthy
}

// Watch re-runs the probes every interval until ctx is done.
func (h *GRPCHandler) Watch(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so clients drain before stop.
func (h *GRPCHandler) Shutdown() {
	h.health.Shutdown()
}

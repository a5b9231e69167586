package handler

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, h *GRPCHandler) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	h.Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestGRPCHandler_ReportsProbeStatus(t *testing.T) {
	var redisErr error
	h := NewGRPCHandler(zerolog.Nop(),
		Probe{Name: "stock-store", Check: func(context.Context) error { return nil }},
		Probe{Name: "redis", Check: func(context.Context) error { return redisErr }},
	)
	client := startHealthServer(t, h)
	ctx := context.Background()

	assert.True(t, h.Check(ctx))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	redisErr = errors.New("connection refused")
	assert.False(t, h.Check(ctx))

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "stock-store"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "redis"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestGRPCHandler_Shutdown(t *testing.T) {
	h := NewGRPCHandler(zerolog.Nop())
	client := startHealthServer(t, h)
	ctx := context.Background()

	h.Check(ctx)
	h.Shutdown()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthRoundTrip(t *testing.T) {
	s, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.Serve() }()

	ctx := context.Background()
	st, err := Check(ctx, s.Addr(), ServiceName)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	s.SetServing(true)
	st, err = Check(ctx, s.Addr(), "")
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	_, err = Check(ctx, s.Addr(), "unknown.Service")
	assert.Error(t, err)

	s.Stop()
	assert.NoError(t, <-served)
}

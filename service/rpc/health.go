// Package rpc exposes the standard gRPC health service so orchestrators can
// probe the sandbox, and a small client to query it.
package rpc

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ys7zTS/sandbox/logger"
)

// ServiceName is the health entry of the chat endpoint.
const ServiceName = "sandbox.Chat"

type HealthServer struct {
	gs     *grpc.Server
	health *health.Server
	lis    net.Listener
	log    *zap.Logger
}

// Listen binds addr and registers the health service. Status starts as
// NOT_SERVING until SetServing(true).
func Listen(addr string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "grpc listen %s", addr)
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	s := &HealthServer{gs: gs, health: hs, lis: lis, log: logger.Named("grpc")}
	s.SetServing(false)
	return s, nil
}

func (s *HealthServer) Addr() string { return s.lis.Addr().String() }

func (s *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve blocks until Stop.
func (s *HealthServer) Serve() error {
	s.log.Info("grpc health listening", zap.String("addr", s.Addr()))
	if err := s.gs.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.gs.GracefulStop()
}

// Check dials target and asks for the status of service ("" for overall).
func Check(ctx context.Context, target, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrapf(err, "dial %s", target)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, errors.Wrap(err, "health check")
	}
	return resp.GetStatus(), nil
}

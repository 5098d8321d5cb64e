// Package statusrpc exposes the producer stream's health over the standard
// gRPC health protocol so orchestrators and grpcurl can probe a running
// visualiser.
package statusrpc

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/session"
)

// StreamService is the health service name tracking the producer stream.
// The empty service name reports process liveness.
const StreamService = "netviz.Stream"

// Server serves gRPC health checks.
type Server struct {
	addr     string
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New builds a server that will listen on addr once started.
func New(addr string) *Server {
	s := &Server{
		addr:   addr,
		server: grpc.NewServer(),
		health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(StreamService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// StatusFor maps a session state to a stream health status.
func StatusFor(st session.State) healthpb.HealthCheckResponse_ServingStatus {
	if st == session.StateConnected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// SetState records a session state change. It fits session.Config.OnState.
func (s *Server) SetState(st session.State) {
	s.health.SetServingStatus(StreamService, StatusFor(st))
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("status server already running")
	}
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[statusrpc] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[statusrpc] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and shuts down gracefully.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[statusrpc] gRPC server stopped")
}

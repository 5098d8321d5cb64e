package statusrpc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/netviz/internal/monitoring"
	"github.com/banshee-data/netviz/internal/session"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		state session.State
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{session.StateIdle, healthpb.HealthCheckResponse_NOT_SERVING},
		{session.StateConnecting, healthpb.HealthCheckResponse_NOT_SERVING},
		{session.StateConnected, healthpb.HealthCheckResponse_SERVING},
		{session.StateDisconnected, healthpb.HealthCheckResponse_NOT_SERVING},
		{session.StateFailed, healthpb.HealthCheckResponse_NOT_SERVING},
		{session.StateShutdown, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.state))
		})
	}
}

func TestHealthCheck(t *testing.T) {
	s := New("127.0.0.1:0")
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Error(t, s.Start())

	conn, err := grpc.NewClient(s.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(StreamService))

	s.SetState(session.StateConnected)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(StreamService))

	s.SetState(session.StateDisconnected)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(StreamService))
}

func TestStopIdempotent(t *testing.T) {
	s := New("127.0.0.1:0")
	assert.Nil(t, s.Addr())
	s.Stop() // never started
	require.NoError(t, s.Start())
	s.Stop()
	s.Stop()
}

func TestLogsThroughMonitoring(t *testing.T) {
	var mu sync.Mutex
	var lines []string
	orig := monitoring.Logf
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	defer monitoring.SetLogger(orig)

	s := New("127.0.0.1:0")
	require.NoError(t, s.Start())
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[statusrpc] gRPC health listening on 127.0.0.1:")
	assert.Equal(t, "[statusrpc] gRPC server stopped", lines[1])
}

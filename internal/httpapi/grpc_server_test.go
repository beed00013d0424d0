package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type checkFunc func(context.Context) error

func (f checkFunc) Check(ctx context.Context) error { return f(ctx) }

func startBufGRPC(t *testing.T, srv *GRPCServer) healthpb.HealthClient {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	server := srv.NewServer()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return healthpb.NewHealthClient(conn)
}

func checkStatus(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestGRPCHealthFollowsReadiness(t *testing.T) {
	var down error
	srv := NewGRPCServer(checkFunc(func(context.Context) error { return down }), nil)
	client := startBufGRPC(t, srv)

	if st := srv.Refresh(context.Background()); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", st)
	}
	if st := checkStatus(t, client, ""); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("overall status = %v", st)
	}
	if st := checkStatus(t, client, serviceName); st != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("service status = %v", st)
	}

	down = errors.New("db unreachable")
	srv.Refresh(context.Background())
	if st := checkStatus(t, client, serviceName); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", st)
	}
}

func TestGRPCHealthShutdown(t *testing.T) {
	srv := NewGRPCServer(ReadyCheck{}, nil)
	client := startBufGRPC(t, srv)
	srv.Refresh(context.Background())

	srv.Shutdown()
	if st := checkStatus(t, client, ""); st != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", st)
	}
}

func TestGRPCWatchStopsWithContext(t *testing.T) {
	calls := make(chan struct{}, 8)
	srv := NewGRPCServer(checkFunc(func(context.Context) error {
		calls <- struct{}{}
		return nil
	}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Watch(ctx, time.Hour)
		close(done)
	}()
	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

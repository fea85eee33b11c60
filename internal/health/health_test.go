package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ok(context.Context) error { return nil }

func TestServeReportsStatuses(t *testing.T) {
	var backendDown atomic.Bool
	backendDown.Store(true)
	srv := NewServer(PingFunc(ok), PingFunc(func(context.Context) error {
		if backendDown.Load() {
			return errors.New("connection refused")
		}
		return nil
	}), time.Hour, nil)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	client := healthpb.NewHealthClient(conn)

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q) failed: %v", service, err)
		}
		return resp.GetStatus()
	}

	deadline := time.Now().Add(5 * time.Second)
	for status("") != healthpb.HealthCheckResponse_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("server never became serving")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := status(BackendService); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected backend NOT_SERVING, got %v", got)
	}

	backendDown.Store(false)
	srv.Check(context.Background())
	if got := status(BackendService); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected backend SERVING, got %v", got)
	}

	_ = conn.Close()
	cancel()
	if err := <-served; err != nil {
		t.Fatalf("Serve returned %v", err)
	}
}

func TestCheckDatabaseDown(t *testing.T) {
	srv := NewServer(PingFunc(func(context.Context) error { return errors.New("closed") }), PingFunc(ok), time.Second, nil)
	srv.Check(context.Background())

	resp, err := srv.health.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %v", resp.GetStatus())
	}
}

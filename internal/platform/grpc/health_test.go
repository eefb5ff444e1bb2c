package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func startHealth(t *testing.T, services ...string) (*HealthServer, string, context.CancelFunc, <-chan error) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := NewHealthServer(services...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, lis)
	}()
	return server, lis.Addr().String(), cancel, done
}

func dialHealthServer(t *testing.T, addr string) *gogrpc.ClientConn {
	t.Helper()

	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial health server: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHealthServerReportsNamedService(t *testing.T) {
	_, addr, cancel, done := startHealth(t, "stage.scenes")
	defer func() {
		cancel()
		<-done
	}()

	conn := dialHealthServer(t, addr)
	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := WaitForHealth(ctx, conn, "stage.scenes", nil); err != nil {
		t.Fatalf("wait for health: %v", err)
	}
}

func TestWaitForHealthRespectsContext(t *testing.T) {
	server, addr, cancel, done := startHealth(t, "stage.scenes")
	defer func() {
		cancel()
		<-done
	}()
	server.SetServing("stage.scenes", false)

	conn := dialHealthServer(t, addr)
	ctx, stop := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer stop()
	if err := WaitForHealth(ctx, conn, "stage.scenes", nil); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	_, _, cancel, done := startHealth(t)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

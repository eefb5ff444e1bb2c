// Package app hosts the stage process: the websocket transport that players
// and spectators connect to, the hub of live scenes, and the HTTP and gRPC
// server lifecycle around them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	platformgrpc "github.com/louisbranch/yesand/internal/platform/grpc"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
)

// HealthService is the gRPC health service name the stage reports.
const HealthService = "yesand.stage"

// Config defines the inputs for the stage transport boundary.
type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	SessionSecret     string
	SessionIssuer     string
	// MCPHandler is mounted at /mcp when set.
	MCPHandler http.Handler
}

// Server hosts the stage HTTP/WebSocket process and its health endpoint.
type Server struct {
	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	health          *platformgrpc.HealthServer
	hub             *Hub
}

// NewServer builds a configured stage server around hub.
func NewServer(config Config, hub *Hub) (*Server, error) {
	if hub == nil {
		return nil, errors.New("hub is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	verifier := NewSessionVerifier(config.SessionSecret, config.SessionIssuer, nil)
	if !verifier.Required() {
		log.Printf("stage: session secret not set, accepting anonymous connections")
	}
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(hub, verifier, config.MCPHandler),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		grpcAddr:        strings.TrimSpace(config.GRPCAddr),
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		health:          platformgrpc.NewHealthServer(HealthService),
		hub:             hub,
	}, nil
}

// ListenAndServe runs the HTTP server, the gRPC health server, and idle
// scene eviction until the context ends or one of them fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("stage server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.serveHTTP(ctx)
	})
	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc on %s: %w", s.grpcAddr, err)
		}
		log.Printf("stage: health listening on %s", lis.Addr())
		group.Go(func() error {
			return s.health.Serve(ctx, lis)
		})
	}
	group.Go(func() error {
		return s.hub.runEviction(ctx)
	})
	return group.Wait()
}

func (s *Server) serveHTTP(ctx context.Context) error {
	serveErr := make(chan error, 1)
	log.Printf("stage: listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.health.SetServing(HealthService, false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close stops every live scene.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.hub.Close()
}

package control

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"google.golang.org/grpc"

	"github.com/craftstudio/craftstudio/internal/logging"
)

// ServerConfig configures a control Server
type ServerConfig struct {
	// Address is "host:port" or "unix:///path/to.sock"
	Address string
	// APIKeys, when non-empty, are the bearer keys accepted by the server
	APIKeys []string
}

// Server serves the control service for a worker
type Server struct {
	cfg        ServerConfig
	handler    Handler
	grpcServer *grpc.Server
	logger     *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a control server around handler
func NewServer(cfg ServerConfig, handler Handler, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Global()
	}
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Component("control-server"),
	}

	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.logCalls, APIKeyInterceptor(cfg.APIKeys...)),
	)
	RegisterControlServer(s.grpcServer, handler)
	return s
}

// Listen binds the configured address. It is separate from Serve so a
// caller knows the port is taken before serving starts.
func (s *Server) Listen() (net.Listener, error) {
	network, address := "tcp", s.cfg.Address
	if strings.HasPrefix(address, "unix://") {
		network, address = "unix", strings.TrimPrefix(address, "unix://")
		_ = os.Remove(address)
	}
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.cfg.Address, err)
	}
	return l, nil
}

// Serve serves on l until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.logger.Info("Control server listening", "address", l.Addr().String())
	if err := s.grpcServer.Serve(l); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Run listens and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	l, err := s.Listen()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(l) }()

	select {
	case <-ctx.Done():
		s.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server
func (s *Server) Stop() {
	s.logger.Info("Stopping control server")
	s.grpcServer.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Warn("Control call failed", "method", info.FullMethod, "error", err)
	} else {
		s.logger.Debug("Control call served", "method", info.FullMethod)
	}
	return resp, err
}

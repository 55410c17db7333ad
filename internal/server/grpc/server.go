// Package grpc hosts the vault's gRPC endpoint. It serves the standard
// health service; the vault service is reported SERVING only while the
// system key is available.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ReadinessProbe reports whether the vault can serve requests.
// *keys.Manager satisfies it.
type ReadinessProbe interface {
	Ready() bool
}

type GRPCServer struct {
	address         string
	logger          logging.Logger
	probe           ReadinessProbe
	health          *health.Server
	probeInterval   time.Duration
	shutdownTimeout time.Duration
	registrars      []func(*grpc.Server)
}

// Option configures a GRPCServer.
type Option func(*GRPCServer)

// WithProbeInterval sets how often readiness is re-checked.
func WithProbeInterval(d time.Duration) Option {
	return func(s *GRPCServer) { s.probeInterval = d }
}

// WithShutdownTimeout bounds GracefulStop; after it expires in-flight RPCs
// are cut off.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *GRPCServer) { s.shutdownTimeout = d }
}

// WithService registers an additional service on the server.
func WithService(register func(*grpc.Server)) Option {
	return func(s *GRPCServer) { s.registrars = append(s.registrars, register) }
}

func NewGRPCServer(address string, l logging.Logger, probe ReadinessProbe, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:         address,
		logger:          l.With("module", "grpc_server"),
		probe:           probe,
		health:          health.NewServer(),
		probeInterval:   5 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Health exposes the health server, mainly for tests.
func (s *GRPCServer) Health() *health.Server {
	return s.health
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoveryInterceptor, s.loggingInterceptor))

	healthpb.RegisterHealthServer(srv, s.health)
	for _, register := range s.registrars {
		register(srv)
	}
	s.refreshHealth(ctx)

	go s.watch(ctx, srv)

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}

// refreshHealth publishes the current readiness of the vault service.
func (s *GRPCServer) refreshHealth(ctx context.Context) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if s.probe != nil && s.probe.Ready() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(common.VaultServiceName, status)
	s.logger.Debug(ctx, "health refreshed", "service", common.VaultServiceName, "status", status.String())
}

func (s *GRPCServer) watch(ctx context.Context, srv *grpc.Server) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refreshHealth(ctx)
		case <-ctx.Done():
			s.logger.Info(ctx, "Stopping gRPC server...")
			s.health.Shutdown()
			s.stop(srv)
			return
		}
	}
}

func (s *GRPCServer) stop(srv *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn(context.Background(), "graceful stop timed out, closing connections")
		srv.Stop()
	}
}

// Package status serves liveness over gRPC health checks and Prometheus
// metrics over HTTP. The health status flips to NOT_SERVING when the
// lockdown latch trips so orchestrators can react.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ppiankov/sentinel/internal/latch"
	"github.com/ppiankov/sentinel/internal/metrics"
)

// ServiceName is the health service name reported alongside "".
const ServiceName = "sentinel"

// Config holds listener addresses. Empty addresses disable a listener.
type Config struct {
	GRPCAddress    string
	MetricsAddress string
}

// Server wraps the gRPC health server and the metrics endpoint.
type Server struct {
	logger *slog.Logger

	grpcServer *grpc.Server
	health     *health.Server
	grpcLis    net.Listener

	httpServer *http.Server
	httpLis    net.Listener
}

// New binds the configured listeners. Nothing is served until Start.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{logger: logger}

	if cfg.GRPCAddress != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddress)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
		}
		grpc_prometheus.EnableHandlingTimeHistogram()
		s.grpcServer = grpc.NewServer(
			grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
			grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		)
		s.health = health.NewServer()
		healthpb.RegisterHealthServer(s.grpcServer, s.health)
		grpc_prometheus.Register(s.grpcServer)
		reflection.Register(s.grpcServer)
		s.grpcLis = lis
		s.setServing(healthpb.HealthCheckResponse_SERVING)
	}

	if cfg.MetricsAddress != "" {
		lis, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			if s.grpcLis != nil {
				_ = s.grpcLis.Close()
			}
			return nil, fmt.Errorf("listen on %s: %w", cfg.MetricsAddress, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.httpServer = &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		s.httpLis = lis
	}
	return s, nil
}

// Start serves both listeners in the background. Serve errors are logged.
func (s *Server) Start() {
	if s.grpcServer != nil {
		go func() {
			s.logger.Info("health server listening", "address", s.grpcLis.Addr().String())
			if err := s.grpcServer.Serve(s.grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				s.logger.Error("health server exited", "error", err)
			}
		}()
	}
	if s.httpServer != nil {
		go func() {
			s.logger.Info("metrics server listening", "address", s.httpLis.Addr().String())
			if err := s.httpServer.Serve(s.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("metrics server exited", "error", err)
			}
		}()
	}
}

// SetLocked reports NOT_SERVING once the pipeline is locked down.
func (s *Server) SetLocked(locked bool) {
	metrics.SetLocked(locked)
	if locked {
		s.setServing(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setServing(healthpb.HealthCheckResponse_SERVING)
}

// OnLock is a latch hook.
func (s *Server) OnLock(latch.Event) {
	s.SetLocked(true)
}

func (s *Server) setServing(st healthpb.HealthCheckResponse_ServingStatus) {
	if s.health == nil {
		return
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Shutdown attempts a graceful shutdown, falling back to Stop after ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// GRPCAddress is the bound health listener address, or "".
func (s *Server) GRPCAddress() string {
	if s.grpcLis == nil {
		return ""
	}
	return s.grpcLis.Addr().String()
}

// MetricsAddress is the bound metrics listener address, or "".
func (s *Server) MetricsAddress() string {
	if s.httpLis == nil {
		return ""
	}
	return s.httpLis.Addr().String()
}

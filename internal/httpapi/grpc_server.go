package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer serves grpc.health.v1 for the overall server ("") and for
// serviceName, tracking the same readiness check as /readyz.
type HealthServer struct {
	srv       *health.Server
	readiness Readiness
	log       *zap.Logger
}

// NewHealthServer starts NOT_SERVING until the first Refresh.
func NewHealthServer(r Readiness, log *zap.Logger) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &HealthServer{srv: health.NewServer(), readiness: r, log: log}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh runs the readiness check and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	if err := h.readiness.Check(ctx); err != nil {
		h.log.Warn("grpc health: not ready", zap.Error(err))
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx is done, then marks the server
// NOT_SERVING for good.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cctx, cancel := context.WithTimeout(ctx, interval)
		_ = h.Refresh(cctx)
		cancel()
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}

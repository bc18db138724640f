package grpc

import (
	"context"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

type MatchingInternalServer struct {
	grpc_health_v1.UnimplementedHealthServer
	service *application.Service
}

func NewMatchingInternalServer(service *application.Service) *MatchingInternalServer {
	return &MatchingInternalServer{service: service}
}

func Register(server grpc.ServiceRegistrar, svc *MatchingInternalServer) {
	grpc_health_v1.RegisterHealthServer(server, svc)
}

func (s *MatchingInternalServer) Check(_ context.Context, _ *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.service == nil {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

func (s *MatchingInternalServer) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	_ = req
	return stream.Send(&grpc_health_v1.HealthCheckResponse{Status: grpc_health_v1.HealthCheckResponse_SERVING})
}

package routes

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// RelayServiceName 是健康检查中使用的服务名
const RelayServiceName = "relay.v1.Relay"

// RegisterHealthGRPC 注册 grpc.health.v1.Health; 初始状态为 NOT_SERVING, 依赖就绪后由调用方切换
func RegisterHealthGRPC(s *grpc.Server) *health.Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(RelayServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// MarkServing 将整体与中继服务标记为 SERVING
func MarkServing(hs *health.Server) {
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RelayServiceName, healthpb.HealthCheckResponse_SERVING)
}

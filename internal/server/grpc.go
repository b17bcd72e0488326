package server

import (
	"relay-core/internal/server/routes"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// NewGRPCServer 初始化 gRPC 服务, 目前只注册标准健康检查
func NewGRPCServer() (*grpc.Server, *health.Server) {
	s := grpc.NewServer()
	hs := routes.RegisterHealthGRPC(s)
	return s, hs
}

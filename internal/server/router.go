package server

import (
	"net/http"

	"relay-core/internal/handler"
	"relay-core/internal/server/routes"
	"relay-core/pkg/errno"
	"relay-core/pkg/logger"
	"relay-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(relay *handler.RelayHandler, health *handler.HealthHandler, metrics *monitor.Metrics) *gin.Engine {
	r := gin.New()

	// 1. 通用中间件; 不使用 gin.Logger, 路径中含 API key
	r.Use(recovery(), metrics.Middleware())

	// 2. 基础路由
	r.GET("/health", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 3. JSON-RPC
	routes.RegisterRelay(r, relay)

	return r
}

// recovery 把 panic 转为 JSON-RPC 内部错误, 不输出堆栈到响应
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, rec any) {
		logger.Error("panic recovered", zap.Any("panic", rec), zap.String("route", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"jsonrpc": "2.0",
			"error":   gin.H{"code": errno.InternalServerError.Code, "message": errno.InternalServerError.Message},
			"id":      nil,
		})
	})
}

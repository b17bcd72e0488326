package routes

import (
	"relay-core/internal/handler"

	"github.com/gin-gonic/gin"
)

// RegisterRelay 注册 JSON-RPC 入口; key 在路径中, secret 在 Authorization 头中
func RegisterRelay(r *gin.Engine, h *handler.RelayHandler) {
	r.POST("/:apiKey/:chainId", h.Handle)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports liveness plus the chains this instance serves
type HealthHandler struct {
	Version string
	Chains  []uint64
}

// HealthCheck GET /health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"version": h.Version,
		"service": "relay-server",
		"chains":  h.Chains,
	})
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/linkup/social-core/internal/metrics"
)

// NewRouter builds the full HTTP surface: the authenticated API, the
// WebSocket upgrade endpoint, health, and Prometheus metrics.
func NewRouter(h *Handler, upgrade http.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/ws", gin.WrapF(upgrade))

	h.Register(r)
	return r
}

package router

import (
	"net/http"

	"trustchain/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter registers health, metrics and the ledger API
func SetupRouter(r *gin.Engine, h *handler.LedgerHandler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:id")
		{
			users.POST("/blocks", h.Mine)
			users.POST("/awards", h.Award)
			users.GET("/chain", h.Chain)
			users.GET("/verify", h.Verify)
			users.GET("/score", h.Score)
		}
		v1.GET("/leaderboard", h.Leaderboard)
	}
}

package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/predolabs/predo-bot/internal/config"
	"github.com/predolabs/predo-bot/internal/handlers"
	"github.com/predolabs/predo-bot/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the backing stores are reachable
type HealthFunc func(ctx context.Context) error

// HandlerDependencies bundles the handlers the router needs
type HandlerDependencies struct {
	AdminHandler *handlers.AdminHandler
	Health       HealthFunc
}

// SetupRouter sets up the ops/admin router
func SetupRouter(cfg *config.Config, deps HandlerDependencies) *gin.Engine {
	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := router.Group("/api/v1")
	{
		public.POST("/auth/login", deps.AdminHandler.Login)
	}

	protected := router.Group("/api/v1/admin")
	protected.Use(middleware.JWTAuthMiddleware(cfg.JWT.Secret))
	{
		protected.POST("/jobs/retry", deps.AdminHandler.RetryFailedJobs)
		protected.GET("/queues", deps.AdminHandler.QueueStats)
	}

	return router
}

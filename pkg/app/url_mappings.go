package app

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/flagq/internal/controllers"
	"github.com/osvaldoandrade/flagq/internal/middleware"
	"github.com/osvaldoandrade/flagq/pkg/auth"
	"github.com/osvaldoandrade/flagq/pkg/domain"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/healthz", healthz(app))
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := app.Engine.Group("/v1/flagq")
	producer := v1.Group("", middleware.AuthMiddleware(app.ProducerValidator))
	{
		enqueue := producer.Group("",
			middleware.RequireScope(auth.ScopeEnqueue),
			middleware.RateLimitProducer(app.RateLimiter, app.Config),
		)
		enqueue.POST("/jobs/push", controllers.NewEnqueueJobController(app.Jobs, domain.CmdPush).Handle)
		enqueue.POST("/jobs/pull", controllers.NewEnqueueJobController(app.Jobs, domain.CmdPull).Handle)

		read := producer.Group("", middleware.RequireScope(auth.ScopeRead))
		read.GET("/jobs/:id", controllers.NewGetJobController(app.Jobs).Handle)
		read.GET("/queues/:command", controllers.NewQueueStatsController(app.Jobs).Handle)

		producer.POST("/jobs/cleanup", middleware.RequireScope(auth.ScopeAdmin), controllers.NewCleanupExpiredController(app.Jobs).Handle)
	}
}

func healthz(app *Application) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

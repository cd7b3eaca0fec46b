package router

import (
	"net/http"

	"crawlfleet/app/handler"
	"crawlfleet/app/middleware"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	autoscalerHandler *handler.AutoScalerHandler
	apiKey            string
}

// NewRouter creates a new Router
func NewRouter(autoscalerHandler *handler.AutoScalerHandler, apiKey string) *Router {
	return &Router{
		autoscalerHandler: autoscalerHandler,
		apiKey:            apiKey,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(r.apiKey))
	{
		autoscaler := api.Group("/autoscaler")
		{
			autoscaler.GET("/status", r.autoscalerHandler.GetStatus)
			autoscaler.GET("/events", r.autoscalerHandler.GetEvents)
			autoscaler.GET("/health", r.autoscalerHandler.Health)
			autoscaler.GET("/watch", r.autoscalerHandler.Watch)
			autoscaler.POST("/nodes/:id/activate", r.autoscalerHandler.ActivateNode)
		}
	}

	// Health check, unauthenticated for load balancers
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

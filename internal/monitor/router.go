package monitor

import (
	"github.com/gin-gonic/gin"
)

type Router struct {
	Handler *Handler
}

func NewRouter(handler *Handler) *Router {
	return &Router{Handler: handler}
}

func (r *Router) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(CorsMiddleware())

	router.GET("/health", r.Handler.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/transfers", r.Handler.ListTransfers)
		api.GET("/files", r.Handler.ListFiles)
	}

	router.GET("/ws", r.Handler.UpgradeHandler)
	return router
}

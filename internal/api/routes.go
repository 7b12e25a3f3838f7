package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP surface: the API routes, CORS and the metrics
// endpoint. An empty origin list allows every origin.
func NewRouter(handler *Handler, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, handler)
	return router
}

func SetupRoutes(router *gin.Engine, handler *Handler) {
	api := router.Group("/api")
	{
		api.GET("/properties", handler.GetProperties)
		api.DELETE("/properties", handler.DeleteProperties)
		api.GET("/summary", handler.GetSummary)
		api.GET("/stats", handler.GetStats)
		api.POST("/pipeline/run", handler.RunPipeline)
		api.GET("/pipeline/status", handler.PipelineStatus)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

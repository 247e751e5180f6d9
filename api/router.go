// vidvault/api/router.go
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vidvault/config"
)

func SetupRouter(h *Handler, cfg *config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), ZapLogger(log))

	// Health check
	r.GET("/health", h.handleHealth)

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		// Async task endpoints
		v1.POST("/tasks", h.handleCreateTask)
		v1.GET("/tasks/:taskId", h.handleGetTaskStatus)

		// Direct metadata extraction, no task involved.
		v1.POST("/videos/info", h.handleVideoInfo)
		v1.GET("/supported-sites", h.handleSupportedSites)

		// Stored artifact management.
		v1.GET("/videos", h.handleListVideos)
		v1.GET("/videos/:processingId", h.handleGetVideo)
		v1.DELETE("/videos/:processingId", h.handleDeleteVideo)
	}
	return r
}

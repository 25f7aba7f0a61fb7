package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aozora-works/kousei-engine/internal/api"
	"github.com/aozora-works/kousei-engine/internal/app"
)

func (s *Server) SetupRoutes(app *app.App) {
	// Health check doubles as the client facade's feature detection.
	s.ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":            "ok",
			"runtime_available": app.Engine().RuntimeAvailable(),
		})
	})

	apiV1 := s.ginEngine.Group("/api/v1")

	apiV1.GET("/models", handlerWrapper(app, api.ListModels))
	apiV1.POST("/models/:id/download", handlerWrapper(app, api.DownloadModel))
	apiV1.GET("/models/:id/progress", handlerWrapper(app, api.StreamDownloadProgress))
	apiV1.DELETE("/models/:id", handlerWrapper(app, api.DeleteModel))
	apiV1.POST("/models/:id/load", handlerWrapper(app, api.LoadModel))
	apiV1.POST("/models/unload", handlerWrapper(app, api.UnloadModel))
	apiV1.GET("/models/loaded", handlerWrapper(app, api.GetLoadedModel))

	apiV1.POST("/infer", handlerWrapper(app, api.Infer))
	apiV1.GET("/infer/events", handlerWrapper(app, api.StreamInferenceEvents))

	apiV1.GET("/storage", handlerWrapper(app, api.GetStorageUsage))
}

func handlerWrapper(app *app.App, f func(c *gin.Context)) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set("app", app)
		f(ctx)
	}
}

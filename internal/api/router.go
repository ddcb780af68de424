package api

import (
	"github.com/gin-gonic/gin"

	"github.com/trailhead/trailimport/internal/api/handler"
	"github.com/trailhead/trailimport/internal/api/middleware"
	"github.com/trailhead/trailimport/internal/app"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(a *app.App) *gin.Engine {
	switch a.Config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(a.Logger))
	r.Use(middleware.CORS(a.Config.Server.CORS))

	var pinger handler.Pinger
	if sqlDB, err := a.DB.DB(); err == nil {
		pinger = sqlDB
	}
	// A nil *TrailIndex must stay a nil interface.
	var index handler.TrailGeoIndex
	if a.Index != nil {
		index = a.Index
	}

	healthHandler := handler.NewHealthHandler(pinger)
	importHandler := handler.NewImportHandler(a.Bootstrapper, a.Jobs)
	trailHandler := handler.NewTrailHandler(a.Trails, index)
	sourceHandler := handler.NewSourceHandler(a.Sources, a.Registry.Types)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		imports := v1.Group("/imports")
		imports.POST("/bootstrap", importHandler.Bootstrap)
		imports.POST("/trigger", importHandler.Trigger)
		imports.GET("/jobs", importHandler.ListJobs)
		imports.GET("/jobs/:id", importHandler.GetJob)
		imports.GET("/jobs/:id/children", importHandler.GetBulkChildren)
		imports.GET("/status", importHandler.Status)
		imports.GET("/progress", importHandler.Progress)

		v1.GET("/trails", trailHandler.Search)
		v1.GET("/trails/:source/:source_id", trailHandler.Get)
		v1.GET("/trails/:source/:source_id/similar", trailHandler.Similar)

		v1.GET("/sources", sourceHandler.List)
	}

	return r
}

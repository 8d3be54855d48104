package api

import (
	"github.com/firewatch/dashboard/internal/api/handlers"
	"github.com/firewatch/dashboard/internal/app"
	"github.com/firewatch/dashboard/internal/auth"
	"github.com/firewatch/dashboard/internal/health"
	"github.com/firewatch/dashboard/internal/metrics"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all application routes using dependencies container
func RegisterRoutes(deps *app.Dependencies, router *gin.Engine) {
	router.Use(metrics.Instrument())

	// Health routes (no authentication required)
	health.RegisterHealthRoutes(router, deps.DB, deps.Redis)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	alertHandler := handlers.NewAlertHandler(deps.AlertService)
	telemetryHandler := handlers.NewTelemetryHandler(deps.AlertService)
	locationHandler := handlers.NewLocationHandler(deps.AlertService)

	apiGroup := router.Group("/api")
	apiGroup.Use(auth.Authenticate(deps.Verifier))
	{
		apiGroup.POST("/thingspeak", telemetryHandler.Latest)
		apiGroup.POST("/alert-manager", alertHandler.AlertManager)
		apiGroup.GET("/locations", locationHandler.ListLocations)

		alertGroup := apiGroup.Group("/alerts")
		{
			alertGroup.GET("/recent", alertHandler.GetRecentAlerts)
			alertGroup.GET("/open", alertHandler.GetOpenAlerts)
			alertGroup.GET("/count", alertHandler.GetAlertsCount)
			alertGroup.GET("/active/count", alertHandler.GetActiveAlertsCount)
			alertGroup.GET("/severity/counts", alertHandler.GetSeverityCounts)
			alertGroup.GET("/:id", alertHandler.GetAlert)
			alertGroup.PATCH("/:id/status", auth.RequireAuth(deps.Verifier), alertHandler.UpdateStatus)
		}
	}

	handlers.RegisterWebSocketRoutes(router, deps.WSHub)
}

package health

import (
	"github.com/firewatch/dashboard/internal/api/handlers"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// RegisterHealthRoutes registers health check and info endpoints
func RegisterHealthRoutes(router *gin.Engine, db *gorm.DB, redisClient *redis.Client) {
	healthHandler := handlers.NewHealthHandler(db, redisClient)

	// no authentication required
	router.GET("/health", healthHandler.GetHealth)
	router.GET("/api/info", healthHandler.GetAPIInfo)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/firewatch/dashboard/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewHealthHandler creates a new health handler. redisClient is nil when
// the Redis lock is disabled, and is then left out of the report.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{
		db:    db,
		redis: redisClient,
	}
}

// GetHealth handles GET /health
func (h *HealthHandler) GetHealth(c *gin.Context) {
	pgHealth := storage.HealthCheck(h.db)

	status := "healthy"
	code := http.StatusOK

	if pgHealth != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	database := gin.H{
		"postgres": pgHealth == nil,
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		redisErr := h.redis.Ping(ctx).Err()
		cancel()
		database["redis"] = redisErr == nil
		if redisErr != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"database":  database,
	})
}

// GetAPIInfo handles GET /api/info
func (h *HealthHandler) GetAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "Firewatch Dashboard API",
		"version": "1.0.0",
		"status":  "running",
	})
}

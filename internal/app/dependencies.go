package app

import (
	"fmt"

	"github.com/firewatch/dashboard/internal/auth"
	"github.com/firewatch/dashboard/internal/processor"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/firewatch/dashboard/internal/websocket"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Dependencies holds all application-wide dependencies
type Dependencies struct {
	DB           *gorm.DB
	Redis        *redis.Client
	AlertService service.AlertService
	EventBus     *processor.EventBus
	WSHub        *websocket.Hub
	Verifier     *auth.Verifier
}

// NewDependencies creates a new dependencies container with validation.
// redisClient may be nil; a nil verifier makes every protected route
// answer 401.
func NewDependencies(
	db *gorm.DB,
	redisClient *redis.Client,
	alertService service.AlertService,
	eventBus *processor.EventBus,
	wsHub *websocket.Hub,
	verifier *auth.Verifier,
) (*Dependencies, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if alertService == nil {
		return nil, fmt.Errorf("alert service is required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if wsHub == nil {
		return nil, fmt.Errorf("websocket hub is required")
	}

	return &Dependencies{
		DB:           db,
		Redis:        redisClient,
		AlertService: alertService,
		EventBus:     eventBus,
		WSHub:        wsHub,
		Verifier:     verifier,
	}, nil
}

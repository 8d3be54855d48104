package handlers

import (
	"net/http"

	"github.com/firewatch/dashboard/internal/service"
	"github.com/firewatch/dashboard/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// TelemetryHandler proxies ThingSpeak reads so channel keys stay server side
type TelemetryHandler struct {
	service service.AlertService
}

func NewTelemetryHandler(service service.AlertService) *TelemetryHandler {
	return &TelemetryHandler{service: service}
}

type telemetryRequest struct {
	Action   string            `json:"action" binding:"required"`
	Location telemetry.Channel `json:"location"`
}

// Latest handles POST /api/thingspeak. An unreachable or empty channel
// is a successful answer without data.
func (h *TelemetryHandler) Latest(c *gin.Context) {
	var req telemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}
	if req.Action != "latest" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown action"})
		return
	}
	if req.Location.ChannelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "location.channel_id is required"})
		return
	}

	reading, err := h.service.LatestReading(c.Request.Context(), req.Location)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "message": service.NoSensorDataMessage})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": reading})
}

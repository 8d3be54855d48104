package handlers

import (
	"net/http"

	"github.com/firewatch/dashboard/internal/service"
	"github.com/gin-gonic/gin"
)

// LocationHandler serves the map markers
type LocationHandler struct {
	service service.AlertService
}

func NewLocationHandler(service service.AlertService) *LocationHandler {
	return &LocationHandler{service: service}
}

// ListLocations handles GET /api/locations
func (h *LocationHandler) ListLocations(c *gin.Context) {
	locations, err := h.service.ListLocations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"locations": locations,
		"count":     len(locations),
	})
}

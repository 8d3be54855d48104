package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/firewatch/dashboard/internal/auth"
	"github.com/firewatch/dashboard/internal/logger"
	"github.com/firewatch/dashboard/internal/models"
	"github.com/firewatch/dashboard/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AlertHandler handles alert HTTP requests
type AlertHandler struct {
	service service.AlertService
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(service service.AlertService) *AlertHandler {
	return &AlertHandler{
		service: service,
	}
}

type alertManagerRequest struct {
	Action     string `json:"action" binding:"required"`
	LocationID string `json:"locationId"`
	AlertID    string `json:"alertId"`
	Status     string `json:"status"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

// AlertManager handles POST /api/alert-manager
func (h *AlertHandler) AlertManager(c *gin.Context) {
	var req alertManagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body"})
		return
	}

	switch req.Action {
	case "evaluate":
		h.evaluate(c, req.LocationID)
	case "update":
		h.updateStatus(c, req.AlertID, req.Status)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown action"})
	}
}

// UpdateStatus handles PATCH /api/alerts/:id/status
func (h *AlertHandler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "status is required"})
		return
	}
	h.updateStatus(c, c.Param("id"), req.Status)
}

func (h *AlertHandler) evaluate(c *gin.Context, rawID string) {
	locationID, err := uuid.Parse(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid locationId"})
		return
	}

	result, err := h.service.Evaluate(c.Request.Context(), locationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *AlertHandler) updateStatus(c *gin.Context, rawID, rawStatus string) {
	identity, ok := auth.IdentityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": auth.ErrMissingToken.Error()})
		return
	}

	alertID, err := uuid.Parse(rawID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid alertId"})
		return
	}

	alert, err := h.service.UpdateStatus(c.Request.Context(), alertID, models.AlertStatus(rawStatus), identity.Name())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "alert": alert})
}

// GetAlert handles GET /api/alerts/:id
func (h *AlertHandler) GetAlert(c *gin.Context) {
	alertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}

	alert, err := h.service.GetAlert(c.Request.Context(), alertID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

// GetRecentAlerts handles GET /api/alerts/recent
func (h *AlertHandler) GetRecentAlerts(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "50")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		limit = 50
	}

	alerts, err := h.service.GetRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetOpenAlerts handles GET /api/alerts/open
func (h *AlertHandler) GetOpenAlerts(c *gin.Context) {
	alerts, err := h.service.GetOpenAlerts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlertsCount handles GET /api/alerts/count
func (h *AlertHandler) GetAlertsCount(c *gin.Context) {
	count, err := h.service.GetTotalAlertsCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": count,
	})
}

// GetActiveAlertsCount handles GET /api/alerts/active/count
func (h *AlertHandler) GetActiveAlertsCount(c *gin.Context) {
	count, err := h.service.GetActiveAlertsCount(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": count,
	})
}

// GetSeverityCounts handles GET /api/alerts/severity/counts
func (h *AlertHandler) GetSeverityCounts(c *gin.Context) {
	counts, err := h.service.GetSeverityCounts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, counts)
}

// writeError maps service errors to HTTP codes. Unknown errors are store
// failures and are logged here.
func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, service.ErrLocationNotFound), errors.Is(err, service.ErrAlertNotFound):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidStatus):
		code = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidTransition):
		code = http.StatusConflict
	default:
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}

package handlers

import (
	"github.com/firewatch/dashboard/internal/websocket"
	"github.com/gin-gonic/gin"
)

// WebSocketHandler handles WebSocket requests
type WebSocketHandler struct {
	hub *websocket.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
	}
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// RegisterWebSocketRoutes registers the WebSocket endpoint
func RegisterWebSocketRoutes(router *gin.Engine, wsHub *websocket.Hub) {
	wsHandler := NewWebSocketHandler(wsHub)
	router.GET("/ws", wsHandler.HandleWebSocket)
}

package handlers

import (
	"net/http"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades authenticated connections onto the hub.
type WebSocketHandler struct {
	hub    *websocket.Hub
	logger *zap.Logger
}

func NewWebSocketHandler(hub *websocket.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:    hub,
		logger: logger,
	}
}

// HandleWebSocket starts the realtime channel for the verified identity.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID, exists := c.Get("userId")
	if !exists || userID.(string) == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	username, _ := c.Get("username")
	displayName, _ := username.(string)

	websocket.ServeWs(h.hub, c.Writer, c.Request, userID.(string), displayName, h.logger)
}

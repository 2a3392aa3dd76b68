package handlers

import (
	"net/http"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/queue"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/session"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/websocket"
	"github.com/gin-gonic/gin"
)

// StatsHandler aggregates queue, session and connection counts.
type StatsHandler struct {
	engine   *queue.Engine
	sessions *session.Manager
	hub      *websocket.Hub
}

func NewStatsHandler(engine *queue.Engine, sessions *session.Manager, hub *websocket.Hub) *StatsHandler {
	return &StatsHandler{
		engine:   engine,
		sessions: sessions,
		hub:      hub,
	}
}

// GetStats returns the operational snapshot.
func (h *StatsHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"queues":         h.engine.QueueSizes(c.Request.Context()),
		"sessions":       h.sessions.Stats(),
		"connectedUsers": h.hub.ConnectedUsers(),
	})
}

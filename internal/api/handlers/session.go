package handlers

import (
	"errors"
	"net/http"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/session"
	"github.com/gin-gonic/gin"
)

// SessionHandler exposes the operational session surface.
type SessionHandler struct {
	sessions *session.Manager
}

func NewSessionHandler(sessions *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
	}
}

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// CreateSession registers a new open session, optionally with a caller-chosen
// id.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	snapshot, err := h.sessions.Create(req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "session already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, snapshot)
}

// GetSession returns a session snapshot by id.
func (h *SessionHandler) GetSession(c *gin.Context) {
	snapshot, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

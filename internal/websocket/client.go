package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/queue"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Delay before closing a rejected duplicate-search connection, so the
	// rejection event gets flushed first
	rejectCloseDelay = 250 * time.Millisecond

	searchTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one authenticated websocket connection. It implements
// session.ParticipantConn, so the session manager can push events to it.
type Client struct {
	id          string
	hub         *Hub
	conn        *websocket.Conn
	send        chan *Message
	userID      string
	displayName string
	logger      *zap.Logger

	mu     sync.Mutex // guards send channel close vs concurrent Send
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID, displayName string, logger *zap.Logger) *Client {
	return &Client{
		id:          uuid.New().String(),
		hub:         hub,
		conn:        conn,
		send:        make(chan *Message, 256),
		userID:      userID,
		displayName: displayName,
		logger:      logger,
	}
}

// ID implements session.ParticipantConn.
func (c *Client) ID() string { return c.id }

// Send implements session.ParticipantConn. It never blocks and never
// panics: the session manager may still hold this handle after the socket
// was replaced or closed, so writes to a closed client are dropped.
func (c *Client) Send(event string, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Debug("Dropping event for closed connection",
			zap.String("userId", c.userID),
			zap.String("event", event))
		return
	}

	select {
	case c.send <- &Message{Type: event, Payload: payload}:
	default:
		c.logger.Warn("Send buffer full, dropping event",
			zap.String("userId", c.userID),
			zap.String("event", event))
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("Read error",
					zap.String("userId", c.userID),
					zap.Error(err))
			}
			break
		}

		c.handleEvent(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.Error("Failed to marshal message",
					zap.String("userId", c.userID),
					zap.Error(err))
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleEvent dispatches one inbound envelope. Malformed or stale
// session-scoped events are dropped without a reply.
func (c *Client) handleEvent(data []byte) {
	var ev models.ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("Dropping malformed event",
			zap.String("userId", c.userID),
			zap.Error(err))
		return
	}

	switch ev.Type {
	case models.EventSearch:
		c.handleSearch(ev)

	case models.EventCancelSearch:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c.hub.matchEngine().Remove(ctx, c.userID)
		cancel()

	case models.EventJoinSession:
		c.handleJoin(ev)

	case models.EventCodeChange:
		var p models.CodeChangePayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		c.dropStale(c.hub.sessions.UpdateCode(ev.SessionID, c.id, p.Code))

	case models.EventLangChange:
		var p models.LanguageChangePayload
		if json.Unmarshal(ev.Payload, &p) != nil {
			return
		}
		c.dropStale(c.hub.sessions.UpdateLanguage(ev.SessionID, c.id, p.Language))

	case models.EventTestsPassed:
		c.dropStale(c.hub.sessions.MarkTestsPassed(ev.SessionID, c.id))

	case models.EventChatMessage:
		c.dropStale(c.relay(ev, true))

	case models.EventCursorMove, models.EventTypingStart, models.EventTypingStop, models.EventRunCode:
		c.dropStale(c.relay(ev, false))

	default:
		c.logger.Debug("Dropping unknown event type",
			zap.String("userId", c.userID),
			zap.String("type", ev.Type))
	}
}

func (c *Client) handleSearch(ev models.ClientEvent) {
	var p models.SearchPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		c.sendError("validation", "malformed search payload")
		return
	}

	difficulty, err := models.ParseDifficulty(p.Difficulty)
	if err != nil {
		c.sendError("validation", err.Error())
		return
	}

	displayName := p.DisplayName
	if displayName == "" {
		displayName = c.displayName
	}

	ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
	defer cancel()

	err = c.hub.matchEngine().Search(ctx, &models.MatchRequest{
		UserID:      c.userID,
		DisplayName: displayName,
		Topics:      p.Topics,
		Difficulty:  difficulty,
	})

	switch {
	case err == nil:
		// Either matched (match event already sent) or enqueued.

	case errors.Is(err, queue.ErrAlreadyQueued):
		// A second concurrent search for the same identity loses its
		// connection, not its queue slot.
		c.Send(models.EventAlreadyQueuing, map[string]string{
			"reason": "a search for this user is already in progress",
		})
		time.AfterFunc(rejectCloseDelay, func() {
			c.conn.Close()
		})

	case errors.Is(err, queue.ErrInvalidRequest):
		c.sendError("validation", err.Error())

	default:
		c.logger.Error("Search failed",
			zap.String("userId", c.userID),
			zap.Error(err))
		c.sendError("match-failed", "match could not be completed, please retry")
	}
}

func (c *Client) handleJoin(ev models.ClientEvent) {
	if ev.SessionID == "" {
		c.sendError("validation", "sessionId is required")
		return
	}

	snapshot, err := c.hub.sessions.Join(ev.SessionID, c.userID, c.displayName, c)
	switch {
	case err == nil:
		c.Send(models.EventSessionJoined, snapshot)

	case errors.Is(err, session.ErrNotAuthorized):
		c.sendError("not-authorized", "user is not part of this session")

	case errors.Is(err, session.ErrSessionFull):
		c.sendError("session-full", "session already has two participants")

	default:
		c.sendError("join-failed", err.Error())
	}
}

// relay forwards a stateless event with the sender's identity attached.
func (c *Client) relay(ev models.ClientEvent, echo bool) error {
	payload := map[string]interface{}{
		"sessionId": ev.SessionID,
		"userId":    c.userID,
		"data":      json.RawMessage(ev.Payload),
	}
	return c.hub.sessions.Relay(ev.SessionID, c.id, ev.Type, payload, echo)
}

// dropStale swallows the silent-rejection errors for session-scoped events.
func (c *Client) dropStale(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, session.ErrStaleConnection) || errors.Is(err, session.ErrSessionNotFound) {
		c.logger.Debug("Dropped event from unregistered connection",
			zap.String("userId", c.userID),
			zap.Error(err))
		return
	}
	c.logger.Warn("Session event failed",
		zap.String("userId", c.userID),
		zap.Error(err))
}

func (c *Client) sendError(code, message string) {
	c.Send(models.EventError, models.ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// ServeWs upgrades an authenticated request and starts the client pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID, displayName string, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(hub, conn, userID, displayName, logger)
	client.hub.register <- client

	go client.writePump()
	go client.readPump()
}

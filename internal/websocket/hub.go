package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/queue"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/session"
	"go.uber.org/zap"
)

// Hub tracks every connected client by identity and routes queue
// notifications to them. Session-scoped fan-out goes through the session
// manager, which holds the per-session participant handles.
type Hub struct {
	clients map[string]*Client // userID -> active client
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client

	engine   *queue.Engine
	sessions *session.Manager
	logger   *zap.Logger
}

// Message is the outbound websocket envelope.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

func NewHub(sessions *session.Manager, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		sessions:   sessions,
		logger:     logger,
	}
}

// SetEngine breaks the construction cycle: the engine needs the hub as its
// notifier, the hub needs the engine for search dispatch.
func (h *Hub) SetEngine(engine *queue.Engine) {
	h.mu.Lock()
	h.engine = engine
	h.mu.Unlock()
}

func (h *Hub) matchEngine() *queue.Engine {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine
}

// Run processes register/unregister events. Start once, in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	old, exists := h.clients[client.userID]
	h.clients[client.userID] = client
	h.mu.Unlock()

	if exists {
		// A reconnecting identity keeps only its newest socket.
		old.closeSend()
		h.logger.Info("Replaced existing connection",
			zap.String("userId", client.userID))
	}

	h.logger.Info("Client connected",
		zap.String("userId", client.userID),
		zap.String("connId", client.id))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	current := h.clients[client.userID] == client
	if current {
		delete(h.clients, client.userID)
	}
	engine := h.engine
	h.mu.Unlock()

	// Disconnect drives the lifecycle transitions: leave whatever session
	// this connection was in before releasing its send channel, then drop
	// any queue entry this identity holds.
	h.sessions.Leave(client.id)
	client.closeSend()

	if current && engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		engine.Remove(ctx, client.userID)
		cancel()
	}

	h.logger.Info("Client disconnected",
		zap.String("userId", client.userID),
		zap.String("connId", client.id))
}

// NotifyMatch implements queue.Notifier. Identities connected to another
// instance are a no-op here.
func (h *Hub) NotifyMatch(userID string, match models.MatchNotification) {
	h.sendToUser(userID, models.EventMatchFound, match)
}

// NotifyTimeout implements queue.Notifier.
func (h *Hub) NotifyTimeout(userID string) {
	h.sendToUser(userID, models.EventMatchTimeout, map[string]string{
		"message": "no match found before the wait bound elapsed",
	})
}

func (h *Hub) sendToUser(userID, event string, payload interface{}) {
	h.mu.RLock()
	client := h.clients[userID]
	h.mu.RUnlock()

	if client == nil {
		h.logger.Debug("No local connection for notification",
			zap.String("userId", userID),
			zap.String("event", event))
		return
	}

	client.Send(event, payload)
}

// ConnectedUsers reports the number of identities with a live connection.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

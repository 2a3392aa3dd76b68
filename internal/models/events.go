package models

import "encoding/json"

// Client event types accepted over the websocket.
const (
	EventSearch       = "search"
	EventCancelSearch = "cancel-search"
	EventJoinSession  = "join-session"
	EventCodeChange   = "code-change"
	EventCursorMove   = "cursor-position"
	EventLangChange   = "language-change"
	EventChatMessage  = "chat-message"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventRunCode      = "run-code"
	EventTestsPassed  = "tests-passed"
)

// Server event types pushed to clients.
const (
	EventMatchFound     = "match"
	EventMatchTimeout   = "timeout"
	EventAlreadyQueuing = "already-queuing"
	EventSessionJoined  = "session-joined"
	EventSessionReady   = "session-ready"
	EventUserJoined     = "user-joined"
	EventUserLeft       = "user-left"
	EventError          = "error"
)

// ClientEvent is the inbound websocket envelope. Session-scoped events must
// carry the session id; the sender identity comes from the authenticated
// connection, never from the payload.
type ClientEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SearchPayload shapes the "search" event.
type SearchPayload struct {
	Topics      []string `json:"topics"`
	Difficulty  string   `json:"difficulty"`
	DisplayName string   `json:"displayName"`
}

// CodeChangePayload shapes the "code-change" event.
type CodeChangePayload struct {
	Code string `json:"code"`
}

// LanguageChangePayload shapes the "language-change" event.
type LanguageChangePayload struct {
	Language string `json:"language"`
}

// ErrorPayload is a structured failure pushed back to the caller.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

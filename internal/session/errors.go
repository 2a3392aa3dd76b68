package session

import "errors"

var (
	// ErrSessionNotFound means the session id is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists means create was called with an id already in use.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionFull means the session already has two connected participants.
	ErrSessionFull = errors.New("session is full")

	// ErrNotAuthorized means the identity is not in a matched session's
	// authorized pair.
	ErrNotAuthorized = errors.New("user not authorized for this session")

	// ErrStaleConnection means the sending connection is not the one
	// currently registered for its identity. Callers drop these silently.
	ErrStaleConnection = errors.New("connection is not registered for this session")

	// ErrInvalidMatch means CreateMatched was called without exactly two
	// users or without a question.
	ErrInvalidMatch = errors.New("matched session requires two users and a question")
)

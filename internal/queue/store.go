package queue

import (
	"context"
	"errors"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
)

var (
	// ErrAlreadyQueued means the identity already has a queue entry somewhere.
	ErrAlreadyQueued = errors.New("user is already queuing")

	// ErrInvalidRequest means the search request failed validation.
	ErrInvalidRequest = errors.New("invalid match request")
)

// Store holds waiting users. Two implementations: RedisStore for
// cross-instance visibility and MemoryStore as the single-instance fallback.
// Callers must not depend on which one is active.
//
// Claim is the one racy operation: concurrent matchers may select the same
// candidate, so it must be atomic and idempotent — exactly one caller observes
// true, every other caller observes false and re-drives its own search.
type Store interface {
	// Add appends an entry to its difficulty queue. Returns ErrAlreadyQueued
	// if the identity is waiting in any queue.
	Add(ctx context.Context, entry *models.QueueEntry) error

	// List returns the live entries for a difficulty, oldest first.
	List(ctx context.Context, difficulty models.Difficulty) ([]models.QueueEntry, error)

	// Claim atomically removes the candidate and any queued state of the
	// requester. Reports whether this caller won the candidate.
	Claim(ctx context.Context, difficulty models.Difficulty, candidateID, requesterID string) (bool, error)

	// Remove deletes the identity's entry. Reports whether an entry existed.
	Remove(ctx context.Context, difficulty models.Difficulty, userID string) (bool, error)

	// Size returns the number of live entries for a difficulty.
	Size(ctx context.Context, difficulty models.Difficulty) (int64, error)

	// Name identifies the implementation in logs.
	Name() string
}

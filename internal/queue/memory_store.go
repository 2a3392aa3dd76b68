package queue

import (
	"context"
	"sync"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
)

// MemoryStore is the process-local fallback queue, used whenever the shared
// redis store is unreachable. Matching semantics are identical; only
// cross-instance visibility is lost.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[models.Difficulty][]*models.QueueEntry
	byUser map[string]models.Difficulty
	ttl    time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		queues: make(map[models.Difficulty][]*models.QueueEntry),
		byUser: make(map[string]models.Difficulty),
		ttl:    ttl,
	}
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) Add(_ context.Context, entry *models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byUser[entry.UserID]; exists {
		return ErrAlreadyQueued
	}

	// Insert by enqueue time, not at the tail: a re-added entry (claimed but
	// its match fell through) keeps its original FIFO position.
	copied := *entry
	entries := s.queues[entry.Difficulty]
	i := len(entries)
	for i > 0 && entries[i-1].EnqueuedAt.After(copied.EnqueuedAt) {
		i--
	}
	entries = append(entries, nil)
	copy(entries[i+1:], entries[i:])
	entries[i] = &copied
	s.queues[entry.Difficulty] = entries

	s.byUser[entry.UserID] = entry.Difficulty
	return nil
}

func (s *MemoryStore) List(_ context.Context, difficulty models.Difficulty) ([]models.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(difficulty)

	entries := s.queues[difficulty]
	out := make([]models.QueueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, difficulty models.Difficulty, candidateID, requesterID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeLocked(difficulty, candidateID) {
		// Somebody else already took the candidate.
		return false, nil
	}

	s.removeLocked(difficulty, requesterID)
	return true, nil
}

func (s *MemoryStore) Remove(_ context.Context, difficulty models.Difficulty, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(difficulty, userID), nil
}

func (s *MemoryStore) Size(_ context.Context, difficulty models.Difficulty) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(difficulty)
	return int64(len(s.queues[difficulty])), nil
}

// removeLocked deletes a user's entry from one difficulty queue.
func (s *MemoryStore) removeLocked(difficulty models.Difficulty, userID string) bool {
	entries := s.queues[difficulty]
	for i, e := range entries {
		if e.UserID == userID {
			s.queues[difficulty] = append(entries[:i], entries[i+1:]...)
			delete(s.byUser, userID)
			return true
		}
	}
	return false
}

// pruneLocked drops entries past their TTL. The wait-bound timer normally
// removes entries first; this is the self-healing path when it does not.
func (s *MemoryStore) pruneLocked(difficulty models.Difficulty) {
	if s.ttl <= 0 {
		return
	}

	cutoff := time.Now().Add(-s.ttl)
	entries := s.queues[difficulty]
	live := entries[:0]
	for _, e := range entries {
		if e.EnqueuedAt.After(cutoff) {
			live = append(live, e)
		} else {
			delete(s.byUser, e.UserID)
		}
	}
	s.queues[difficulty] = live
}

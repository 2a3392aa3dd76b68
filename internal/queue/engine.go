package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/pkg/distributed"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuestionFinder supplies a question for a matched pair. Implementations must
// not block past their own call timeout and must return a usable fallback.
type QuestionFinder interface {
	FindQuestion(ctx context.Context, topics []string, difficulty models.Difficulty) *models.Question
}

// SessionCreator provisions a session pre-authorized for the matched pair.
type SessionCreator interface {
	CreateMatched(userA, userB models.MatchedUser, question *models.Question) (string, error)
}

// Notifier pushes match results back to connected users. Unknown identities
// are a no-op: the user may be connected to another instance.
type Notifier interface {
	NotifyMatch(userID string, match models.MatchNotification)
	NotifyTimeout(userID string)
}

const (
	matchLockTTL   = 2 * time.Second
	matchLockTries = 3
	matchLockRetry = 100 * time.Millisecond
	claimAttempts  = 3
	storeTTLSlack  = 10 * time.Second
)

// Engine implements enqueue-or-match. It prefers the shared redis store and
// falls back to a process-local queue whenever redis is unreachable, probing
// the shared store again on every new request.
type Engine struct {
	shared   *RedisStore // nil when the deployment has no redis at all
	local    *MemoryStore
	locks    *distributed.RedisLockManager // nil without redis
	catalog  QuestionFinder
	sessions SessionCreator
	notifier Notifier

	instanceID string
	waitBound  time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	waiting map[string]*models.QueueEntry // waiters owned by this instance
	timers  map[string]*time.Timer
}

func NewEngine(
	shared *RedisStore,
	locks *distributed.RedisLockManager,
	catalog QuestionFinder,
	sessions SessionCreator,
	notifier Notifier,
	waitBound time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		shared:     shared,
		local:      NewMemoryStore(waitBound + storeTTLSlack),
		locks:      locks,
		catalog:    catalog,
		sessions:   sessions,
		notifier:   notifier,
		instanceID: uuid.New().String(),
		waitBound:  waitBound,
		logger:     logger,
		waiting:    make(map[string]*models.QueueEntry),
		timers:     make(map[string]*time.Timer),
	}
}

// Search runs enqueue-or-match for one request: scan the queue for the best
// live candidate, claim it, and provision a session — or append the requester
// as a new waiter with a wait-bound timer.
func (e *Engine) Search(ctx context.Context, req *models.MatchRequest) error {
	if err := validateRequest(req); err != nil {
		return err
	}

	e.mu.Lock()
	if _, waiting := e.waiting[req.UserID]; waiting {
		e.mu.Unlock()
		return ErrAlreadyQueued
	}
	e.mu.Unlock()

	st := e.store(ctx)

	// Serialize scan+claim across instances when the shared store is up. The
	// lock is an optimization, not a guarantee: if it cannot be acquired the
	// atomic claim below still prevents double matching.
	if st == Store(e.shared) && e.locks != nil {
		lockKey := fmt.Sprintf("match:lock:%s", req.Difficulty)
		lock, err := e.locks.TryLockWithRetry(ctx, lockKey, e.instanceID,
			matchLockTTL, matchLockTries, matchLockRetry)
		if err == nil {
			defer func() {
				if rerr := lock.Release(context.Background()); rerr != nil {
					e.logger.Debug("Match lock release failed", zap.Error(rerr))
				}
			}()
		}
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		entries, err := st.List(ctx, req.Difficulty)
		if err != nil {
			e.logger.Warn("Shared queue scan failed, switching to local queue",
				zap.Error(err))
			st = e.local
			continue
		}

		candidate := bestCandidate(entries, req)
		if candidate == nil {
			break
		}

		claimed, err := st.Claim(ctx, req.Difficulty, candidate.UserID, req.UserID)
		if err != nil {
			e.logger.Warn("Queue claim failed, switching to local queue",
				zap.Error(err))
			st = e.local
			continue
		}
		if !claimed {
			// Lost the race for this candidate; rescan.
			continue
		}

		return e.completeMatch(ctx, st, req, candidate)
	}

	return e.enqueue(ctx, st, req)
}

// Remove is the best-effort cleanup for a disconnect or explicit cancel. It
// cancels the wait-bound timer and deletes queue state from every store.
func (e *Engine) Remove(ctx context.Context, userID string) {
	e.mu.Lock()
	entry := e.waiting[userID]
	if timer := e.timers[userID]; timer != nil {
		timer.Stop()
	}
	delete(e.waiting, userID)
	delete(e.timers, userID)
	e.mu.Unlock()

	if entry == nil {
		return
	}

	if e.shared != nil {
		if _, err := e.shared.Remove(ctx, entry.Difficulty, userID); err != nil {
			e.logger.Warn("Failed to remove shared queue entry",
				zap.String("userId", userID),
				zap.Error(err))
		}
	}
	_, _ = e.local.Remove(ctx, entry.Difficulty, userID)

	e.logger.Info("Removed user from queue",
		zap.String("userId", userID),
		zap.String("difficulty", string(entry.Difficulty)))
}

// QueueSizes reports live waiter counts per difficulty from the active store.
func (e *Engine) QueueSizes(ctx context.Context) map[string]int64 {
	st := e.store(ctx)
	sizes := make(map[string]int64, len(models.Difficulties))
	for _, d := range models.Difficulties {
		n, err := st.Size(ctx, d)
		if err != nil {
			n, _ = e.local.Size(ctx, d)
		}
		sizes[string(d)] = n
	}
	return sizes
}

// Stop cancels every pending wait-bound timer.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for userID, timer := range e.timers {
		timer.Stop()
		delete(e.timers, userID)
		delete(e.waiting, userID)
	}
}

// store picks the shared store when reachable, otherwise the local fallback.
// Probed on every request so a recovered redis is picked up immediately.
func (e *Engine) store(ctx context.Context) Store {
	if e.shared == nil {
		return e.local
	}
	if err := e.shared.Ping(ctx); err != nil {
		e.logger.Warn("Shared queue store unreachable, using local queue",
			zap.Error(err))
		return e.local
	}
	return e.shared
}

// bestCandidate scores every entry by topic overlap and picks the highest,
// breaking ties by earliest enqueue time. Greedy best-available, not globally
// optimal: waiters are few and matches must be fast.
func bestCandidate(entries []models.QueueEntry, req *models.MatchRequest) *models.QueueEntry {
	var best *models.QueueEntry
	bestScore := 0

	for i := range entries {
		entry := &entries[i]
		if entry.UserID == req.UserID {
			continue
		}

		score := entry.Overlap(req.Topics)
		if score == 0 {
			continue
		}

		// Entries arrive oldest-first, so a strict > keeps FIFO fairness
		// among equal scores.
		if score > bestScore {
			best = entry
			bestScore = score
		}
	}

	return best
}

func (e *Engine) completeMatch(ctx context.Context, st Store, req *models.MatchRequest, candidate *models.QueueEntry) error {
	// The candidate may have been waiting on this instance; its timer must
	// not fire a timeout for a matched user.
	e.cancelTimer(candidate.UserID)

	question := e.catalog.FindQuestion(ctx, req.Topics, req.Difficulty)

	requester := models.MatchedUser{UserID: req.UserID, DisplayName: req.DisplayName}
	partner := models.MatchedUser{UserID: candidate.UserID, DisplayName: candidate.DisplayName}

	sessionID, err := e.sessions.CreateMatched(requester, partner, question)
	if err != nil {
		// The candidate was already claimed out of the queue. Re-enqueue it
		// with its original timestamp so the failure does not silently lose
		// the waiter or its FIFO position.
		e.requeue(ctx, st, candidate)
		return fmt.Errorf("failed to create matched session: %w", err)
	}

	shared := candidate.Overlap(req.Topics)

	e.notifier.NotifyMatch(req.UserID, models.MatchNotification{
		SessionID:          sessionID,
		PartnerID:          candidate.UserID,
		PartnerDisplayName: candidate.DisplayName,
		SharedTopics:       shared,
		Difficulty:         req.Difficulty,
	})
	e.notifier.NotifyMatch(candidate.UserID, models.MatchNotification{
		SessionID:          sessionID,
		PartnerID:          req.UserID,
		PartnerDisplayName: req.DisplayName,
		SharedTopics:       shared,
		Difficulty:         req.Difficulty,
	})

	e.logger.Info("Match created",
		zap.String("sessionId", sessionID),
		zap.String("userA", req.UserID),
		zap.String("userB", candidate.UserID),
		zap.String("difficulty", string(req.Difficulty)),
		zap.Int("sharedTopics", shared),
		zap.String("store", st.Name()))

	return nil
}

func (e *Engine) enqueue(ctx context.Context, st Store, req *models.MatchRequest) error {
	entry := &models.QueueEntry{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		Topics:      req.Topics,
		Difficulty:  req.Difficulty,
		EnqueuedAt:  time.Now(),
	}

	if err := st.Add(ctx, entry); err != nil {
		if err == ErrAlreadyQueued {
			return err
		}
		if st != Store(e.local) {
			e.logger.Warn("Shared enqueue failed, using local queue", zap.Error(err))
			st = e.local
			if err := st.Add(ctx, entry); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	e.armTimer(st, entry, e.waitBound)

	e.logger.Info("User enqueued",
		zap.String("userId", req.UserID),
		zap.String("difficulty", string(req.Difficulty)),
		zap.Strings("topics", req.Topics),
		zap.String("store", st.Name()))

	return nil
}

// requeue puts a claimed-but-unmatched candidate back, keeping whatever wait
// time it has left.
func (e *Engine) requeue(ctx context.Context, st Store, candidate *models.QueueEntry) {
	if err := st.Add(ctx, candidate); err != nil {
		e.logger.Error("Failed to re-enqueue candidate after match failure",
			zap.String("userId", candidate.UserID),
			zap.Error(err))
		return
	}

	remaining := e.waitBound - time.Since(candidate.EnqueuedAt)
	if remaining < time.Second {
		remaining = time.Second
	}
	e.armTimer(st, candidate, remaining)
}

func (e *Engine) armTimer(st Store, entry *models.QueueEntry, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if old := e.timers[entry.UserID]; old != nil {
		old.Stop()
	}
	e.waiting[entry.UserID] = entry
	e.timers[entry.UserID] = time.AfterFunc(d, func() {
		e.expire(st, entry)
	})
}

// expire fires when the wait bound elapses. Removal doubles as the race check:
// if the entry is already gone the user was matched by another instance, and
// no timeout must be sent.
func (e *Engine) expire(st Store, entry *models.QueueEntry) {
	e.mu.Lock()
	delete(e.waiting, entry.UserID)
	delete(e.timers, entry.UserID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	removed, err := st.Remove(ctx, entry.Difficulty, entry.UserID)
	if err != nil {
		// Removal is best-effort (the entry key TTL self-heals the store),
		// but the waiter still gets its timeout.
		e.logger.Warn("Failed to remove expired queue entry",
			zap.String("userId", entry.UserID),
			zap.Error(err))
	} else if !removed {
		// Already gone: matched by another instance, stay silent.
		return
	}

	e.logger.Info("Queue entry timed out",
		zap.String("userId", entry.UserID),
		zap.String("difficulty", string(entry.Difficulty)))

	e.notifier.NotifyTimeout(entry.UserID)
}

func (e *Engine) cancelTimer(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if timer := e.timers[userID]; timer != nil {
		timer.Stop()
	}
	delete(e.waiting, userID)
	delete(e.timers, userID)
}

func validateRequest(req *models.MatchRequest) error {
	switch {
	case req.UserID == "":
		return fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	case len(req.Topics) == 0:
		return fmt.Errorf("%w: at least one topic required", ErrInvalidRequest)
	case !req.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, req.Difficulty)
	}
	return nil
}

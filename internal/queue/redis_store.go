package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is the shared queue visible to every service instance.
//
// Layout per difficulty:
//   - match:queue:{difficulty}            sorted set, member = userID,
//     score = enqueue time (unix ms) for FIFO ordering
//   - match:entry:{difficulty}:{userID}   JSON entry, TTL = wait bound + slack
//   - match:user:{userID}                 difficulty marker enforcing the
//     one-queue-per-identity invariant, same TTL
//
// Entry and user keys expire on their own, so a crashed instance's queue state
// self-heals; List reaps the leftover sorted-set members.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// claimScript removes the candidate and the requester's own queued state in
// one atomic step. Returns 1 only to the caller that actually removed the
// candidate; the loser of a concurrent claim sees 0 and re-drives its search.
var claimScript = redis.NewScript(`
	if redis.call('ZREM', KEYS[1], ARGV[1]) == 1 then
		redis.call('ZREM', KEYS[1], ARGV[2])
		redis.call('DEL', KEYS[2], KEYS[3], KEYS[4], KEYS[5])
		return 1
	end
	return 0
`)

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *RedisStore) Name() string { return "redis" }

// Ping reports whether the shared store is reachable right now.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) queueKey(d models.Difficulty) string {
	return fmt.Sprintf("match:queue:%s", d)
}

func (s *RedisStore) entryKey(d models.Difficulty, userID string) string {
	return fmt.Sprintf("match:entry:%s:%s", d, userID)
}

func (s *RedisStore) userKey(userID string) string {
	return fmt.Sprintf("match:user:%s", userID)
}

func (s *RedisStore) Add(ctx context.Context, entry *models.QueueEntry) error {
	// The user marker enforces at most one queue entry per identity across
	// all instances and difficulties.
	ok, err := s.client.SetNX(ctx, s.userKey(entry.UserID), string(entry.Difficulty), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to set user marker: %w", err)
	}
	if !ok {
		return ErrAlreadyQueued
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.entryKey(entry.Difficulty, entry.UserID), data, s.ttl)
	pipe.ZAdd(ctx, s.queueKey(entry.Difficulty), redis.Z{
		Score:  float64(entry.EnqueuedAt.UnixMilli()),
		Member: entry.UserID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}

	return nil
}

func (s *RedisStore) List(ctx context.Context, difficulty models.Difficulty) ([]models.QueueEntry, error) {
	userIDs, err := s.client.ZRange(ctx, s.queueKey(difficulty), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = s.entryKey(difficulty, id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}

	entries := make([]models.QueueEntry, 0, len(values))
	var stale []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Entry key expired; the member is a leftover to reap.
			stale = append(stale, userIDs[i])
			continue
		}

		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("Dropping undecodable queue entry",
				zap.String("userId", userIDs[i]),
				zap.Error(err))
			stale = append(stale, userIDs[i])
			continue
		}
		entries = append(entries, entry)
	}

	if len(stale) > 0 {
		s.reap(ctx, difficulty, stale)
	}

	return entries, nil
}

func (s *RedisStore) Claim(ctx context.Context, difficulty models.Difficulty, candidateID, requesterID string) (bool, error) {
	keys := []string{
		s.queueKey(difficulty),
		s.entryKey(difficulty, candidateID),
		s.entryKey(difficulty, requesterID),
		s.userKey(candidateID),
		s.userKey(requesterID),
	}

	result, err := claimScript.Run(ctx, s.client, keys, candidateID, requesterID).Int()
	if err != nil {
		return false, fmt.Errorf("claim script failed: %w", err)
	}

	return result == 1, nil
}

func (s *RedisStore) Remove(ctx context.Context, difficulty models.Difficulty, userID string) (bool, error) {
	removed, err := s.client.ZRem(ctx, s.queueKey(difficulty), userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove queue entry: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.entryKey(difficulty, userID))
	pipe.Del(ctx, s.userKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return removed == 1, fmt.Errorf("failed to clean queue metadata: %w", err)
	}

	return removed == 1, nil
}

func (s *RedisStore) Size(ctx context.Context, difficulty models.Difficulty) (int64, error) {
	return s.client.ZCard(ctx, s.queueKey(difficulty)).Result()
}

// reap removes sorted-set members whose entry keys have expired.
func (s *RedisStore) reap(ctx context.Context, difficulty models.Difficulty, userIDs []string) {
	pipe := s.client.Pipeline()
	for _, id := range userIDs {
		pipe.ZRem(ctx, s.queueKey(difficulty), id)
		pipe.Del(ctx, s.userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to reap expired queue members", zap.Error(err))
		return
	}

	s.logger.Debug("Reaped expired queue members",
		zap.String("difficulty", string(difficulty)),
		zap.Int("count", len(userIDs)))
}

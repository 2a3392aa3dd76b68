package queue

import (
	"context"
	"testing"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
)

func entry(userID string, difficulty models.Difficulty, topics ...string) *models.QueueEntry {
	return &models.QueueEntry{
		UserID:      userID,
		DisplayName: "name-" + userID,
		Topics:      topics,
		Difficulty:  difficulty,
		EnqueuedAt:  time.Now(),
	}
}

func TestMemoryStore_AddAndList(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Add(ctx, entry("u1", models.DifficultyEasy, "Arrays")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Add(ctx, entry("u2", models.DifficultyEasy, "Strings")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	entries, err := store.List(ctx, models.DifficultyEasy)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].UserID != "u1" || entries[1].UserID != "u2" {
		t.Errorf("order = %q, %q; want u1, u2 (FIFO)", entries[0].UserID, entries[1].UserID)
	}
}

func TestMemoryStore_DuplicateUserRejected(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	if err := store.Add(ctx, entry("u1", models.DifficultyEasy, "Arrays")); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	// Same user, even in a different difficulty, is rejected.
	if err := store.Add(ctx, entry("u1", models.DifficultyHard, "Arrays")); err != ErrAlreadyQueued {
		t.Errorf("err = %v, want ErrAlreadyQueued", err)
	}
}

func TestMemoryStore_ClaimIsExclusive(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	_ = store.Add(ctx, entry("candidate", models.DifficultyMedium, "Graphs"))
	_ = store.Add(ctx, entry("requester", models.DifficultyMedium, "Graphs"))

	claimed, err := store.Claim(ctx, models.DifficultyMedium, "candidate", "requester")
	if err != nil || !claimed {
		t.Fatalf("claim = %v, %v; want true, nil", claimed, err)
	}

	// Claim removes both sides of the pair.
	size, _ := store.Size(ctx, models.DifficultyMedium)
	if size != 0 {
		t.Errorf("size = %d, want 0 after claim", size)
	}

	// A second claim of the same candidate loses.
	claimed, err = store.Claim(ctx, models.DifficultyMedium, "candidate", "other")
	if err != nil || claimed {
		t.Errorf("second claim = %v, %v; want false, nil", claimed, err)
	}
}

func TestMemoryStore_Remove(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	_ = store.Add(ctx, entry("u1", models.DifficultyEasy, "Arrays"))

	removed, err := store.Remove(ctx, models.DifficultyEasy, "u1")
	if err != nil || !removed {
		t.Fatalf("remove = %v, %v; want true, nil", removed, err)
	}

	removed, err = store.Remove(ctx, models.DifficultyEasy, "u1")
	if err != nil || removed {
		t.Errorf("second remove = %v, %v; want false, nil", removed, err)
	}

	// The user can enqueue again after removal.
	if err := store.Add(ctx, entry("u1", models.DifficultyEasy, "Arrays")); err != nil {
		t.Errorf("re-add after remove failed: %v", err)
	}
}

func TestMemoryStore_AddRestoresTimestampOrder(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	older := entry("older", models.DifficultyEasy, "Arrays")
	older.EnqueuedAt = time.Now().Add(-2 * time.Second)
	newer := entry("newer", models.DifficultyEasy, "Arrays")
	newer.EnqueuedAt = time.Now().Add(-time.Second)

	// Re-adding an older entry (a claimed candidate whose match fell
	// through) puts it back ahead of later waiters, not at the tail.
	_ = store.Add(ctx, newer)
	_ = store.Add(ctx, older)

	entries, err := store.List(ctx, models.DifficultyEasy)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "older" || entries[1].UserID != "newer" {
		t.Errorf("order = %v, want older before newer", entries)
	}
}

func TestMemoryStore_ExpiredEntriesPruned(t *testing.T) {
	store := NewMemoryStore(30 * time.Millisecond)
	ctx := context.Background()

	_ = store.Add(ctx, entry("stale", models.DifficultyEasy, "Arrays"))
	time.Sleep(60 * time.Millisecond)
	_ = store.Add(ctx, entry("fresh", models.DifficultyEasy, "Arrays"))

	entries, err := store.List(ctx, models.DifficultyEasy)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "fresh" {
		t.Errorf("entries = %+v, want only fresh", entries)
	}

	// Pruning also frees the exclusivity slot.
	if err := store.Add(ctx, entry("stale", models.DifficultyEasy, "Arrays")); err != nil {
		t.Errorf("re-add after expiry failed: %v", err)
	}
}

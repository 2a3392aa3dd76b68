package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"go.uber.org/zap"
)

type fakeCatalog struct{}

func (fakeCatalog) FindQuestion(_ context.Context, topics []string, difficulty models.Difficulty) *models.Question {
	return &models.Question{
		ID:         "q-" + topics[0],
		Title:      topics[0] + " Question",
		Category:   topics[0],
		Difficulty: difficulty,
	}
}

type fakeCreator struct {
	mu       sync.Mutex
	calls    int
	lastA    models.MatchedUser
	lastB    models.MatchedUser
	lastQ    *models.Question
	failNext bool
}

func (f *fakeCreator) CreateMatched(userA, userB models.MatchedUser, question *models.Question) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failNext {
		f.failNext = false
		return "", errors.New("session store down")
	}

	f.calls++
	f.lastA, f.lastB, f.lastQ = userA, userB, question
	return fmt.Sprintf("session-%d", f.calls), nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	matches  map[string]models.MatchNotification
	timeouts []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{matches: make(map[string]models.MatchNotification)}
}

func (f *fakeNotifier) NotifyMatch(userID string, match models.MatchNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.matches[userID] = match
}

func (f *fakeNotifier) NotifyTimeout(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, userID)
}

func (f *fakeNotifier) match(userID string) (models.MatchNotification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.matches[userID]
	return m, ok
}

func (f *fakeNotifier) timeoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timeouts)
}

func newTestEngine(waitBound time.Duration) (*Engine, *fakeCreator, *fakeNotifier) {
	creator := &fakeCreator{}
	notifier := newFakeNotifier()
	engine := NewEngine(nil, nil, fakeCatalog{}, creator, notifier, waitBound, zap.NewNop())
	return engine, creator, notifier
}

func search(t *testing.T, e *Engine, userID string, topics []string, difficulty models.Difficulty) error {
	t.Helper()
	return e.Search(context.Background(), &models.MatchRequest{
		UserID:      userID,
		DisplayName: "name-" + userID,
		Topics:      topics,
		Difficulty:  difficulty,
	})
}

func TestEngine_EnqueueThenMatch(t *testing.T) {
	engine, creator, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	if err := search(t, engine, "u1", []string{"Arrays", "Strings"}, models.DifficultyEasy); err != nil {
		t.Fatalf("first search failed: %v", err)
	}
	if _, ok := notifier.match("u1"); ok {
		t.Fatal("u1 should be waiting, not matched")
	}

	if err := search(t, engine, "u2", []string{"Strings"}, models.DifficultyEasy); err != nil {
		t.Fatalf("second search failed: %v", err)
	}

	m1, ok1 := notifier.match("u1")
	m2, ok2 := notifier.match("u2")
	if !ok1 || !ok2 {
		t.Fatal("both users should be notified of the match")
	}
	if m1.SessionID != m2.SessionID {
		t.Errorf("session ids differ: %q vs %q", m1.SessionID, m2.SessionID)
	}
	if m1.SharedTopics != 1 || m2.SharedTopics != 1 {
		t.Errorf("sharedTopics = %d/%d, want 1/1", m1.SharedTopics, m2.SharedTopics)
	}
	if m1.PartnerID != "u2" || m2.PartnerID != "u1" {
		t.Errorf("partner ids wrong: %q / %q", m1.PartnerID, m2.PartnerID)
	}

	// The question was fetched for the requester's topic
	if creator.lastQ == nil || creator.lastQ.ID != "q-Strings" {
		t.Errorf("question = %+v, want id q-Strings", creator.lastQ)
	}

	sizes := engine.QueueSizes(context.Background())
	if sizes["easy"] != 0 {
		t.Errorf("queue should be empty after match, got %d", sizes["easy"])
	}
}

func TestEngine_SecondSearchRejected(t *testing.T) {
	engine, _, _ := newTestEngine(time.Minute)
	defer engine.Stop()

	if err := search(t, engine, "u1", []string{"Arrays"}, models.DifficultyEasy); err != nil {
		t.Fatalf("first search failed: %v", err)
	}

	err := search(t, engine, "u1", []string{"Arrays"}, models.DifficultyEasy)
	if !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("err = %v, want ErrAlreadyQueued", err)
	}
}

func TestEngine_NoOverlapNoMatch(t *testing.T) {
	engine, creator, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	_ = search(t, engine, "u1", []string{"Graphs"}, models.DifficultyMedium)
	_ = search(t, engine, "u2", []string{"Strings"}, models.DifficultyMedium)

	if creator.calls != 0 {
		t.Errorf("no session should be created, got %d", creator.calls)
	}
	if _, ok := notifier.match("u2"); ok {
		t.Error("u2 should be enqueued, not matched")
	}

	sizes := engine.QueueSizes(context.Background())
	if sizes["medium"] != 2 {
		t.Errorf("queue size = %d, want 2", sizes["medium"])
	}
}

func TestEngine_DifficultyPartitioning(t *testing.T) {
	engine, creator, _ := newTestEngine(time.Minute)
	defer engine.Stop()

	_ = search(t, engine, "u1", []string{"Arrays"}, models.DifficultyEasy)
	_ = search(t, engine, "u2", []string{"Arrays"}, models.DifficultyHard)

	if creator.calls != 0 {
		t.Errorf("users in different difficulties must not match, got %d sessions", creator.calls)
	}
}

func TestEngine_FIFOTieBreak(t *testing.T) {
	engine, _, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	// Two waiters with disjoint topics so they never match each other,
	// then a requester that overlaps both equally.
	_ = search(t, engine, "oldest", []string{"DP"}, models.DifficultyEasy)
	time.Sleep(5 * time.Millisecond)
	_ = search(t, engine, "newest", []string{"Sorting"}, models.DifficultyEasy)
	time.Sleep(5 * time.Millisecond)
	_ = search(t, engine, "req", []string{"DP", "Sorting"}, models.DifficultyEasy)

	m, ok := notifier.match("req")
	if !ok {
		t.Fatal("req should have matched")
	}
	if m.PartnerID != "oldest" {
		t.Errorf("partner = %q, want oldest (FIFO tie-break)", m.PartnerID)
	}
}

func TestEngine_HighestOverlapWins(t *testing.T) {
	engine, _, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	_ = search(t, engine, "one-topic", []string{"Arrays"}, models.DifficultyEasy)
	time.Sleep(5 * time.Millisecond)
	_ = search(t, engine, "two-topics", []string{"Strings", "Graphs"}, models.DifficultyEasy)
	time.Sleep(5 * time.Millisecond)
	_ = search(t, engine, "req", []string{"Strings", "Graphs"}, models.DifficultyEasy)

	m, ok := notifier.match("req")
	if !ok {
		t.Fatal("req should have matched")
	}
	if m.PartnerID != "two-topics" {
		t.Errorf("partner = %q, want two-topics (higher overlap beats FIFO)", m.PartnerID)
	}
	if m.SharedTopics != 2 {
		t.Errorf("sharedTopics = %d, want 2", m.SharedTopics)
	}
}

func TestEngine_Timeout(t *testing.T) {
	engine, _, notifier := newTestEngine(40 * time.Millisecond)
	defer engine.Stop()

	if err := search(t, engine, "u1", []string{"Arrays"}, models.DifficultyEasy); err != nil {
		t.Fatalf("search failed: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	if got := notifier.timeoutCount(); got != 1 {
		t.Fatalf("timeout notifications = %d, want exactly 1", got)
	}

	sizes := engine.QueueSizes(context.Background())
	if sizes["easy"] != 0 {
		t.Errorf("expired entry still in queue, size = %d", sizes["easy"])
	}
}

type unreachableStore struct{}

func (unreachableStore) Name() string { return "down" }
func (unreachableStore) Add(context.Context, *models.QueueEntry) error {
	return errors.New("store down")
}
func (unreachableStore) List(context.Context, models.Difficulty) ([]models.QueueEntry, error) {
	return nil, errors.New("store down")
}
func (unreachableStore) Claim(context.Context, models.Difficulty, string, string) (bool, error) {
	return false, errors.New("store down")
}
func (unreachableStore) Remove(context.Context, models.Difficulty, string) (bool, error) {
	return false, errors.New("store down")
}
func (unreachableStore) Size(context.Context, models.Difficulty) (int64, error) {
	return 0, errors.New("store down")
}

func TestEngine_TimeoutFiresWhenStoreRemoveFails(t *testing.T) {
	engine, _, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	// Removal is best-effort; the waiter must still be told it timed out
	// even when the store is unreachable at expiry.
	engine.expire(unreachableStore{}, &models.QueueEntry{
		UserID:     "u1",
		Topics:     []string{"Arrays"},
		Difficulty: models.DifficultyEasy,
		EnqueuedAt: time.Now(),
	})

	if got := notifier.timeoutCount(); got != 1 {
		t.Fatalf("timeout notifications = %d, want 1 despite store failure", got)
	}
}

func TestEngine_CancelPreventsTimeout(t *testing.T) {
	engine, _, notifier := newTestEngine(40 * time.Millisecond)
	defer engine.Stop()

	_ = search(t, engine, "u1", []string{"Arrays"}, models.DifficultyEasy)
	engine.Remove(context.Background(), "u1")

	time.Sleep(120 * time.Millisecond)

	if got := notifier.timeoutCount(); got != 0 {
		t.Errorf("timeout notifications after cancel = %d, want 0", got)
	}
}

func TestEngine_Validation(t *testing.T) {
	engine, _, _ := newTestEngine(time.Minute)
	defer engine.Stop()

	tests := []struct {
		name string
		req  *models.MatchRequest
	}{
		{"missing user id", &models.MatchRequest{Topics: []string{"Arrays"}, Difficulty: models.DifficultyEasy}},
		{"no topics", &models.MatchRequest{UserID: "u1", Difficulty: models.DifficultyEasy}},
		{"bad difficulty", &models.MatchRequest{UserID: "u1", Topics: []string{"Arrays"}, Difficulty: "brutal"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := engine.Search(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestEngine_SessionFailureRequeuesCandidate(t *testing.T) {
	engine, creator, notifier := newTestEngine(time.Minute)
	defer engine.Stop()

	_ = search(t, engine, "candidate", []string{"Arrays"}, models.DifficultyEasy)

	creator.failNext = true
	err := search(t, engine, "req", []string{"Arrays"}, models.DifficultyEasy)
	if err == nil {
		t.Fatal("search should surface the session creation failure")
	}

	if _, ok := notifier.match("candidate"); ok {
		t.Error("candidate must not receive a match event for a failed session")
	}

	// The claimed candidate goes back into the queue instead of being lost
	sizes := engine.QueueSizes(context.Background())
	if sizes["easy"] != 1 {
		t.Fatalf("queue size = %d, want 1 (candidate re-enqueued)", sizes["easy"])
	}

	// A retry should now succeed against the restored candidate
	if err := search(t, engine, "req", []string{"Arrays"}, models.DifficultyEasy); err != nil {
		t.Fatalf("retry search failed: %v", err)
	}
	if m, ok := notifier.match("req"); !ok || m.PartnerID != "candidate" {
		t.Errorf("retry should match candidate, got %+v", m)
	}
}

package session

import (
	"context"
	"sync"
	"time"

	"github.com/CS3219-AY2526Sem1/cs3219-ay2526s1-project-g35-sub000/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session statuses.
const (
	StatusOpen           = "open"
	StatusMatchedPending = "matched-pending"
	StatusActive         = "active"
	StatusEmpty          = "empty"
)

// ParticipantConn is the connection handle a participant is reachable on.
// Implemented by the websocket client; Send must never block.
type ParticipantConn interface {
	ID() string
	Send(event string, payload interface{})
}

// HistorySubmitter records one attempt per participant when a session ends.
type HistorySubmitter interface {
	Submit(ctx context.Context, record models.AttemptRecord) error
}

// Participant is a currently-connected session member.
type Participant struct {
	UserID      string
	DisplayName string
	Conn        ParticipantConn
	JoinedAt    time.Time
}

// Session is the canonical state of one collaborative session. All fields are
// guarded by mu; every mutation for a session goes through its own mutex so
// concurrent edits from both participants cannot interleave destructively.
type Session struct {
	mu sync.Mutex

	ID           string
	Status       string
	Authorized   []string // exactly two ids for matched sessions, nil for open
	Participants []*Participant
	Code         string
	Language     string
	Question     *models.Question
	TestsPassed  bool
	CreatedAt    time.Time
	LastActiveAt time.Time

	// everyone records every identity that ever joined, for history
	// attribution after the session empties.
	everyone map[string]string
}

// PendingMatch tracks a freshly matched session that is still waiting for one
// or both of its authorized users to join.
type PendingMatch struct {
	SessionID string
	Users     [2]string
	Question  *models.Question
	CreatedAt time.Time
}

// Snapshot is a copy of session state safe to hand to handlers and clients.
type Snapshot struct {
	ID           string               `json:"sessionId"`
	Status       string               `json:"status"`
	Participants []models.MatchedUser `json:"participants"`
	Code         string               `json:"code"`
	Language     string               `json:"language"`
	Question     *models.Question     `json:"question,omitempty"`
	TestsPassed  bool                 `json:"testsPassed"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastActiveAt time.Time            `json:"lastActiveAt"`
}

// Manager owns every session and the join/leave/reconnect state machine.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	pending  map[string]*PendingMatch
	byConn   map[string]string // connection id -> session id
	disposal map[string]*time.Timer

	history       HistorySubmitter
	gracePeriod   time.Duration
	submitTimeout time.Duration
	logger        *zap.Logger
}

func NewManager(history HistorySubmitter, gracePeriod time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		sessions:      make(map[string]*Session),
		pending:       make(map[string]*PendingMatch),
		byConn:        make(map[string]string),
		disposal:      make(map[string]*time.Timer),
		history:       history,
		gracePeriod:   gracePeriod,
		submitTimeout: 5 * time.Second,
		logger:        logger,
	}
}

// Create registers a new open session under the given id, generating one if
// empty. Any identity may join an open session up to capacity.
func (m *Manager) Create(sessionID string) (*Snapshot, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; exists {
		return nil, ErrSessionExists
	}

	s := newSession(sessionID)
	m.sessions[sessionID] = s

	m.logger.Info("Session created", zap.String("sessionId", sessionID))

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// CreateMatched provisions a session pre-authorized for exactly the two
// matched users, seeds the code buffer from the question's starter code, and
// registers a PendingMatch until both have joined.
func (m *Manager) CreateMatched(userA, userB models.MatchedUser, question *models.Question) (string, error) {
	if userA.UserID == "" || userB.UserID == "" || userA.UserID == userB.UserID || question == nil {
		return "", ErrInvalidMatch
	}

	sessionID := uuid.New().String()

	s := newSession(sessionID)
	s.Status = StatusMatchedPending
	s.Authorized = []string{userA.UserID, userB.UserID}
	s.Question = question
	s.Language = question.PreferredLanguage()
	s.Code = question.StarterCode[s.Language]

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.pending[sessionID] = &PendingMatch{
		SessionID: sessionID,
		Users:     [2]string{userA.UserID, userB.UserID},
		Question:  question,
		CreatedAt: time.Now(),
	}
	m.mu.Unlock()

	m.logger.Info("Matched session created",
		zap.String("sessionId", sessionID),
		zap.String("userA", userA.UserID),
		zap.String("userB", userB.UserID),
		zap.String("questionId", question.ID))

	return sessionID, nil
}

// Join admits an identity into a session, auto-creating an open session for
// unknown ids. A join for an identity already present is a reconnect: the
// connection handle is replaced and session state is untouched.
func (m *Manager) Join(sessionID, userID, displayName string, conn ParticipantConn) (*Snapshot, error) {
	// A connection lives in at most one session. Joining another one runs
	// the leave path for the previous session first, so it can empty and
	// dispose normally.
	m.mu.RLock()
	prev, known := m.byConn[conn.ID()]
	m.mu.RUnlock()
	if known && prev != sessionID {
		m.Leave(conn.ID())
	}

	m.mu.Lock()
	s, exists := m.sessions[sessionID]
	if !exists {
		s = newSession(sessionID)
		m.sessions[sessionID] = s
	}
	if timer := m.disposal[sessionID]; timer != nil {
		timer.Stop()
		delete(m.disposal, sessionID)
	}
	m.mu.Unlock()

	s.mu.Lock()

	if s.Authorized != nil && !authorized(s.Authorized, userID) {
		s.mu.Unlock()
		return nil, ErrNotAuthorized
	}

	var oldConnID string
	reconnect := false
	for _, p := range s.Participants {
		if p.UserID == userID {
			oldConnID = p.Conn.ID()
			p.Conn = conn
			p.JoinedAt = time.Now()
			reconnect = true
			break
		}
	}

	if !reconnect {
		if len(s.Participants) >= 2 {
			s.mu.Unlock()
			return nil, ErrSessionFull
		}
		s.Participants = append(s.Participants, &Participant{
			UserID:      userID,
			DisplayName: displayName,
			Conn:        conn,
			JoinedAt:    time.Now(),
		})
		s.everyone[userID] = displayName
	}

	ready := false
	if s.Authorized != nil {
		if s.pairCompleteLocked() {
			ready = s.Status == StatusMatchedPending
			s.Status = StatusActive
		}
	} else if s.Status == StatusOpen || s.Status == StatusEmpty {
		s.Status = StatusActive
	}
	s.LastActiveAt = time.Now()

	snapshot := s.snapshotLocked()
	others := s.othersLocked(conn.ID())
	all := append([]*Participant(nil), s.Participants...)
	question := s.Question
	language := s.Language
	s.mu.Unlock()

	m.mu.Lock()
	m.byConn[conn.ID()] = sessionID
	if oldConnID != "" && oldConnID != conn.ID() {
		delete(m.byConn, oldConnID)
	}
	if ready {
		delete(m.pending, sessionID)
	}
	m.mu.Unlock()

	for _, p := range others {
		p.Conn.Send(models.EventUserJoined, map[string]string{
			"sessionId":   sessionID,
			"userId":      userID,
			"displayName": displayName,
		})
	}

	if ready {
		for _, p := range all {
			p.Conn.Send(models.EventSessionReady, map[string]interface{}{
				"sessionId": sessionID,
				"question":  question,
				"language":  language,
			})
		}
	}

	m.logger.Info("User joined session",
		zap.String("sessionId", sessionID),
		zap.String("userId", userID),
		zap.Bool("reconnect", reconnect),
		zap.Bool("ready", ready))

	return snapshot, nil
}

// Leave removes the participant owning the connection. When the session
// empties, history records are submitted asynchronously and a disposal timer
// is armed; a rejoin within the grace period cancels it.
func (m *Manager) Leave(connID string) {
	m.mu.Lock()
	sessionID, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byConn, connID)
	s := m.sessions[sessionID]
	m.mu.Unlock()

	if s == nil {
		return
	}

	s.mu.Lock()
	var left *Participant
	for i, p := range s.Participants {
		if p.Conn.ID() == connID {
			left = p
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			break
		}
	}
	if left == nil {
		s.mu.Unlock()
		return
	}

	empty := len(s.Participants) == 0
	if empty {
		s.Status = StatusEmpty
	}
	s.LastActiveAt = time.Now()

	remaining := append([]*Participant(nil), s.Participants...)
	records := s.historyRecordsLocked()
	s.mu.Unlock()

	for _, p := range remaining {
		p.Conn.Send(models.EventUserLeft, map[string]string{
			"sessionId": sessionID,
			"userId":    left.UserID,
		})
	}

	m.logger.Info("User left session",
		zap.String("sessionId", sessionID),
		zap.String("userId", left.UserID),
		zap.Bool("empty", empty))

	if empty {
		go m.emitHistory(sessionID, records)
		m.armDisposal(sessionID)
	}
}

// UpdateCode overwrites the shared code buffer (last-writer-wins) and relays
// the change to the other participant.
func (m *Manager) UpdateCode(sessionID, connID, code string) error {
	s, err := m.activeSession(sessionID, connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.Code = code
	s.LastActiveAt = time.Now()
	others := s.othersLocked(connID)
	s.mu.Unlock()

	for _, p := range others {
		p.Conn.Send(models.EventCodeChange, map[string]string{
			"sessionId": sessionID,
			"code":      code,
		})
	}
	return nil
}

// UpdateLanguage switches the session language and relays the change.
func (m *Manager) UpdateLanguage(sessionID, connID, language string) error {
	s, err := m.activeSession(sessionID, connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.Language = language
	s.LastActiveAt = time.Now()
	others := s.othersLocked(connID)
	s.mu.Unlock()

	for _, p := range others {
		p.Conn.Send(models.EventLangChange, map[string]string{
			"sessionId": sessionID,
			"language":  language,
		})
	}
	return nil
}

// MarkTestsPassed flips the terminal outcome flag used by history emission.
func (m *Manager) MarkTestsPassed(sessionID, connID string) error {
	s, err := m.activeSession(sessionID, connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.TestsPassed = true
	s.LastActiveAt = time.Now()
	others := s.othersLocked(connID)
	s.mu.Unlock()

	for _, p := range others {
		p.Conn.Send(models.EventTestsPassed, map[string]string{
			"sessionId": sessionID,
		})
	}
	return nil
}

// Relay forwards a stateless event (cursor, typing, chat, run-code) to the
// other participant. Chat is echoed to the sender as well so both sides see a
// single ordered transcript.
func (m *Manager) Relay(sessionID, connID, event string, payload interface{}, echo bool) error {
	s, err := m.activeSession(sessionID, connID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.LastActiveAt = time.Now()
	var targets []*Participant
	if echo {
		targets = append([]*Participant(nil), s.Participants...)
	} else {
		targets = s.othersLocked(connID)
	}
	s.mu.Unlock()

	for _, p := range targets {
		p.Conn.Send(event, payload)
	}
	return nil
}

// Get returns a snapshot of the session.
func (m *Manager) Get(sessionID string) (*Snapshot, error) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	m.mu.RUnlock()

	if s == nil {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// IsPending reports whether a matched session is still waiting for its
// authorized pair to join.
func (m *Manager) IsPending(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[sessionID]
	return ok
}

// Stats aggregates session counts for the operational surface.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	pending := len(m.pending)
	m.mu.RUnlock()

	byStatus := make(map[string]int)
	participants := 0
	for _, s := range sessions {
		s.mu.Lock()
		byStatus[s.Status]++
		participants += len(s.Participants)
		s.mu.Unlock()
	}

	return map[string]interface{}{
		"total":        len(sessions),
		"byStatus":     byStatus,
		"participants": participants,
		"pending":      pending,
	}
}

// Stop cancels all disposal timers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.disposal {
		timer.Stop()
		delete(m.disposal, id)
	}
}

// activeSession resolves the session and verifies the sending connection is
// the one currently registered for it. Stale or duplicate connections get
// ErrStaleConnection, which callers drop silently.
func (m *Manager) activeSession(sessionID, connID string) (*Session, error) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	registered := m.byConn[connID] == sessionID
	m.mu.RUnlock()

	if s == nil {
		return nil, ErrSessionNotFound
	}
	if !registered {
		return nil, ErrStaleConnection
	}

	s.mu.Lock()
	current := false
	for _, p := range s.Participants {
		if p.Conn.ID() == connID {
			current = true
			break
		}
	}
	s.mu.Unlock()

	if !current {
		return nil, ErrStaleConnection
	}
	return s, nil
}

func (m *Manager) armDisposal(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.disposal[sessionID]; old != nil {
		old.Stop()
	}
	m.disposal[sessionID] = time.AfterFunc(m.gracePeriod, func() {
		m.dispose(sessionID)
	})
}

// dispose deletes the session if it is still empty when the grace period
// elapses.
func (m *Manager) dispose(sessionID string) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	delete(m.disposal, sessionID)
	if s == nil {
		m.mu.Unlock()
		return
	}

	s.mu.Lock()
	stillEmpty := len(s.Participants) == 0
	s.mu.Unlock()

	if stillEmpty {
		delete(m.sessions, sessionID)
		delete(m.pending, sessionID)
	}
	m.mu.Unlock()

	if stillEmpty {
		m.logger.Info("Disposed empty session", zap.String("sessionId", sessionID))
	}
}

// emitHistory submits one record per distinct historical participant.
// Individual failures are logged and never block cleanup.
func (m *Manager) emitHistory(sessionID string, records []models.AttemptRecord) {
	for _, record := range records {
		ctx, cancel := context.WithTimeout(context.Background(), m.submitTimeout)
		err := m.history.Submit(ctx, record)
		cancel()

		if err != nil {
			m.logger.Warn("Failed to submit attempt record",
				zap.String("sessionId", sessionID),
				zap.String("userId", record.UserID),
				zap.Error(err))
		}
	}
}

func newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Status:       StatusOpen,
		Language:     models.DefaultLanguage,
		CreatedAt:    now,
		LastActiveAt: now,
		everyone:     make(map[string]string),
	}
}

func authorized(ids []string, userID string) bool {
	for _, id := range ids {
		if id == userID {
			return true
		}
	}
	return false
}

func (s *Session) pairCompleteLocked() bool {
	if len(s.Participants) != 2 {
		return false
	}
	for _, id := range s.Authorized {
		found := false
		for _, p := range s.Participants {
			if p.UserID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (s *Session) othersLocked(connID string) []*Participant {
	others := make([]*Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.Conn.ID() != connID {
			others = append(others, p)
		}
	}
	return others
}

func (s *Session) snapshotLocked() *Snapshot {
	participants := make([]models.MatchedUser, 0, len(s.Participants))
	for _, p := range s.Participants {
		participants = append(participants, models.MatchedUser{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
		})
	}

	return &Snapshot{
		ID:           s.ID,
		Status:       s.Status,
		Participants: participants,
		Code:         s.Code,
		Language:     s.Language,
		Question:     s.Question,
		TestsPassed:  s.TestsPassed,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
	}
}

// historyRecordsLocked builds the terminal records for every identity that
// ever joined, reflecting the session's outcome flag.
func (s *Session) historyRecordsLocked() []models.AttemptRecord {
	status := models.AttemptStatusAttempted
	if s.TestsPassed {
		status = models.AttemptStatusCompleted
	}

	var title, category string
	var difficulty models.Difficulty
	if s.Question != nil {
		title = s.Question.Title
		category = s.Question.Category
		difficulty = s.Question.Difficulty
	}

	records := make([]models.AttemptRecord, 0, len(s.everyone))
	for userID := range s.everyone {
		records = append(records, models.AttemptRecord{
			UserID:        userID,
			SessionID:     s.ID,
			QuestionTitle: title,
			Difficulty:    difficulty,
			Category:      category,
			Status:        status,
		})
	}
	return records
}

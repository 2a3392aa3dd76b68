package models

import "time"

// MatchRequest is a single search attempt from a connected user. It lives only
// for the duration of the enqueue-or-match call.
type MatchRequest struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Topics      []string   `json:"topics"`
	Difficulty  Difficulty `json:"difficulty"`
}

// QueueEntry is a waiting user, stored per-difficulty in FIFO order. An entry
// exists in at most one difficulty queue system-wide.
type QueueEntry struct {
	UserID      string     `json:"userId"`
	DisplayName string     `json:"displayName"`
	Topics      []string   `json:"topics"`
	Difficulty  Difficulty `json:"difficulty"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
}

// Overlap counts topics the entry shares with the given topic set.
func (e *QueueEntry) Overlap(topics []string) int {
	have := make(map[string]bool, len(e.Topics))
	for _, t := range e.Topics {
		have[t] = true
	}
	shared := 0
	for _, t := range topics {
		if have[t] {
			shared++
			have[t] = false
		}
	}
	return shared
}

// MatchedUser identifies one side of a successful match.
type MatchedUser struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// MatchNotification is pushed to both users when a match commits.
type MatchNotification struct {
	SessionID          string     `json:"sessionId"`
	PartnerID          string     `json:"partnerId"`
	PartnerDisplayName string     `json:"partnerDisplayName"`
	SharedTopics       int        `json:"sharedTopics"`
	Difficulty         Difficulty `json:"difficulty"`
}

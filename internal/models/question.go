package models

// Question is the cached metadata for a problem served by the question
// service. StarterCode maps language name to a code skeleton.
type Question struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Category    string            `json:"category"`
	Difficulty  Difficulty        `json:"difficulty"`
	StarterCode map[string]string `json:"starterCode,omitempty"`
}

// LanguagePriority is the order in which a session picks its initial language
// from a question's starter code.
var LanguagePriority = []string{"javascript", "python", "java", "cpp"}

const DefaultLanguage = "javascript"

// PreferredLanguage returns the highest-priority language the question has
// starter code for, falling back to DefaultLanguage.
func (q *Question) PreferredLanguage() string {
	for _, lang := range LanguagePriority {
		if _, ok := q.StarterCode[lang]; ok {
			return lang
		}
	}
	return DefaultLanguage
}

// AttemptRecord is the terminal history record submitted once per distinct
// participant when a session empties.
type AttemptRecord struct {
	UserID        string     `json:"userId"`
	SessionID     string     `json:"sessionId"`
	QuestionTitle string     `json:"questionTitle"`
	Difficulty    Difficulty `json:"difficulty"`
	Category      string     `json:"category"`
	Status        string     `json:"status"`
}

// Attempt record statuses.
const (
	AttemptStatusCompleted = "completed"
	AttemptStatusAttempted = "attempted"
)

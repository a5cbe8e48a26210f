// Package types defines the documents and wire payloads shared by the
// interview gateway and the live session client.
package types

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of an interview session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionOngoing   SessionStatus = "ongoing"
	SessionCompleted SessionStatus = "completed"
)

// QAEntry is one question/answer exchange inside a session's history.
// Answer stays empty until the candidate's turn for that entry completes.
type QAEntry struct {
	QuestionID string    `json:"questionId"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	// SubmitToken records the idempotency token of the submit that answered
	// this entry, so a retried submit can be replayed instead of re-applied.
	SubmitToken string `json:"submitToken,omitempty"`
}

// Session is the persisted interview session document.
// History order is append-only; an ongoing session carries at most one
// unanswered trailing entry.
type Session struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Status          SessionStatus `json:"status"`
	SystemPrompt    string        `json:"systemPrompt,omitempty"`
	ContextSummary  string        `json:"contextSummary,omitempty"`
	CurrentQuestion int           `json:"currentQuestion"`
	QAHistory       []QAEntry     `json:"qaHistory"`
	StartedAt       time.Time     `json:"startedAt"`
	EndedAt         time.Time     `json:"endedAt,omitzero"`
}

// EntryIndex returns the position of the history entry with the given
// question id, or -1.
func (s *Session) EntryIndex(questionID string) int {
	for i := range s.QAHistory {
		if s.QAHistory[i].QuestionID == questionID {
			return i
		}
	}
	return -1
}

// RecomputeContextSummary rebuilds the rolling digest from the most recent
// window entries, in the "Q:… A:…" line format the prompt builder consumes.
func (s *Session) RecomputeContextSummary(window int) {
	if window <= 0 {
		window = 6
	}
	history := s.QAHistory
	if len(history) > window {
		history = history[len(history)-window:]
	}
	lines := make([]string, 0, len(history))
	for _, qa := range history {
		lines = append(lines, "Q:"+qa.Question+" A:"+qa.Answer)
	}
	s.ContextSummary = strings.Join(lines, "\n")
}

// Tier is the account plan that selects the daily duration cap.
type Tier string

const (
	TierGuest   Tier = "GUEST"
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
)

// Daily duration caps in seconds per tier. Premium is effectively unlimited.
const (
	GuestDailyCapSeconds   = 600
	FreeDailyCapSeconds    = 1800
	PremiumDailyCapSeconds = 1<<31 - 1
)

// CapForTier returns the per-day duration cap in seconds.
func CapForTier(t Tier) int {
	switch t {
	case TierGuest:
		return GuestDailyCapSeconds
	case TierPremium:
		return PremiumDailyCapSeconds
	default:
		return FreeDailyCapSeconds
	}
}

// Limits is the per-user quota ledger. DurationUsed is monotonically
// non-decreasing within a calendar day and resets to zero exactly once when
// LastResetDate differs from today.
type Limits struct {
	DurationUsed      int    `json:"durationUsed"`
	MaxDurationPerDay int    `json:"maxDurationPerDay"`
	LastResetDate     string `json:"lastResetDate"`
}

// User is the persisted account document.
type User struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	Experience string    `json:"experience,omitempty"`
	Difficulty string    `json:"difficulty,omitempty"`
	Tier       Tier      `json:"tier"`
	Limits     Limits    `json:"limits"`
	ResumeID   string    `json:"resumeId,omitempty"`
	JDID       string    `json:"jdId,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
}

// Progress reports quota consumption back to the client, in seconds.
type Progress struct {
	Current   int `json:"current"`
	Total     int `json:"total"`
	Remaining int `json:"remaining"`
}

// TranscriptEntry is the answered portion of the history, as returned to
// clients. Unanswered trailing entries are excluded.
type TranscriptEntry struct {
	QuestionID string    `json:"questionId"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StartRequest begins a new interview session.
type StartRequest struct {
	UserID string `json:"userId"`
}

// StartResponse carries the created session and its first question.
type StartResponse struct {
	Success    bool      `json:"success"`
	SessionID  string    `json:"sessionId,omitempty"`
	Question   string    `json:"question,omitempty"`
	QuestionID string    `json:"questionId,omitempty"`
	Progress   *Progress `json:"progress,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// AdvanceRequest submits the answer to the currently open question and asks
// for the next one. End marks the final submit of the interview.
type AdvanceRequest struct {
	UserID     string `json:"userId"`
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	AnswerText string `json:"answerText"`
	End        bool   `json:"end,omitempty"`

	// SubmitToken is a client-minted idempotency token: retrying a timed-out
	// submit with the same token replays the recorded outcome instead of
	// answering the entry twice.
	SubmitToken string `json:"submitToken,omitempty"`
}

// AdvanceResponse returns either the next question or the closing
// acknowledgment. End=true means the session is over and no further submits
// will be accepted.
type AdvanceResponse struct {
	Success          bool              `json:"success"`
	Question         string            `json:"question,omitempty"`
	QuestionID       string            `json:"questionId,omitempty"`
	Topic            string            `json:"topic,omitempty"`
	Difficulty       string            `json:"difficulty,omitempty"`
	Progress         *Progress         `json:"progress,omitempty"`
	Transcript       []TranscriptEntry `json:"transcript,omitempty"`
	End              bool              `json:"end"`
	CompletionReason string            `json:"completionReason,omitempty"`
	Message          string            `json:"message,omitempty"`
}

// Transcript converts the answered history entries to the wire shape.
// includeTail controls whether a trailing unanswered entry is kept.
func Transcript(history []QAEntry, includeTail bool) []TranscriptEntry {
	n := len(history)
	if !includeTail && n > 0 && history[n-1].Answer == "" {
		n--
	}
	out := make([]TranscriptEntry, 0, n)
	for _, qa := range history[:n] {
		out = append(out, TranscriptEntry{
			QuestionID: qa.QuestionID,
			Question:   qa.Question,
			Answer:     qa.Answer,
			CreatedAt:  qa.CreatedAt,
			UpdatedAt:  qa.UpdatedAt,
		})
	}
	return out
}

package model

import "time"

// RequestStatus represents the current state of a research request.
// Transitions are monotonic: pending -> in_progress -> {completed | failed}.
// completed and failed are terminal.
type RequestStatus string

const (
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusCompleted  RequestStatus = "completed"
	StatusFailed     RequestStatus = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the four known states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ResearchRequest is a single user-submitted URL to be researched.
type ResearchRequest struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	URL         string        `json:"url"`
	Title       string        `json:"title,omitempty"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// FollowupQuestion is a clarifying question posed before deep analysis.
// Answer is the only mutable field; nil means unanswered.
type FollowupQuestion struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	Question  string  `json:"question"`
	Answer    *string `json:"answer,omitempty"`
}

// Answered reports whether the question has a non-empty answer.
func (q FollowupQuestion) Answered() bool {
	return q.Answer != nil && *q.Answer != ""
}

// ResearchResult holds the multi-perspective analysis for a completed
// request. Exactly one result exists per completed request; failed
// requests never get one.
type ResearchResult struct {
	ID                string    `json:"id"`
	RequestID         string    `json:"request_id"`
	Summary           string    `json:"summary"`
	LeftPerspective   string    `json:"left_perspective"`
	CenterPerspective string    `json:"center_perspective"`
	RightPerspective  string    `json:"right_perspective"`
	FactualAccuracy   int       `json:"factual_accuracy"`
	Sources           []string  `json:"sources"`
	CreatedAt         time.Time `json:"created_at"`
}

// RequestDetail bundles a request with its questions and, when the
// request has completed, its result.
type RequestDetail struct {
	Request           ResearchRequest    `json:"request"`
	FollowupQuestions []FollowupQuestion `json:"followup_questions"`
	Result            *ResearchResult    `json:"result,omitempty"`
}

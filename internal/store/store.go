package store

import (
	"context"
	"time"

	"github.com/prismnews/research-engine/internal/model"
)

// Store defines the persistence interface for the research engine. It is
// a passive layer: all state-machine decisions live in the orchestrator.
//
// Get* methods return (nil, nil) when the entity does not exist so callers
// can map absence to their own error taxonomy.
type Store interface {
	// Research requests
	CreateRequest(ctx context.Context, userID, url, title string) (*model.ResearchRequest, error)
	GetRequest(ctx context.Context, id string) (*model.ResearchRequest, error)
	ListRequests(ctx context.Context, userID string) ([]model.ResearchRequest, error)
	UpdateRequestTitle(ctx context.Context, id, title string) error

	// TransitionStatus performs a compare-and-swap status update: the row
	// is updated only if its current status equals from. It returns true
	// when exactly one row changed, false when the request was in a
	// different state (or missing). When to is StatusInProgress the
	// started_at timestamp is set in the same statement; when to is
	// StatusCompleted, completed_at is.
	TransitionStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error)

	// CountRequestsByStatus reports how many requests are currently in the
	// given state, across all users. Used for completion-time estimates.
	CountRequestsByStatus(ctx context.Context, status model.RequestStatus) (int, error)

	// MarkStaleInProgress transitions in_progress requests whose work
	// started before the cutoff to failed and returns how many rows
	// changed. Staleness is judged by started_at, never created_at: a
	// request may legitimately sit pending for days while the user
	// answers follow-ups.
	MarkStaleInProgress(ctx context.Context, olderThan time.Duration) (int, error)

	// Follow-up questions
	CreateQuestions(ctx context.Context, requestID string, questions []string) ([]model.FollowupQuestion, error)
	GetQuestion(ctx context.Context, id string) (*model.FollowupQuestion, error)
	ListQuestions(ctx context.Context, requestID string) ([]model.FollowupQuestion, error)
	AnswerQuestion(ctx context.Context, id, answer string) (*model.FollowupQuestion, error)

	// Results
	CreateResult(ctx context.Context, result *model.ResearchResult) error
	GetResultByRequest(ctx context.Context, requestID string) (*model.ResearchResult, error)

	// DeleteResultByRequest removes the result row for a request, if any.
	// Used to undo a result insert whose completing transition lost.
	DeleteResultByRequest(ctx context.Context, requestID string) error

	// Users
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, email string) (*model.User, error)

	// Sessions (satisfies auth.SessionStore)
	GetSession(ctx context.Context, token string) (*model.Session, error)
	SetSession(ctx context.Context, session *model.Session) error
	DestroySession(ctx context.Context, token string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

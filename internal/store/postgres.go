package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/prismnews/research-engine/internal/db"
	"github.com/prismnews/research-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations (polling reads and
// the CAS transition).
var preparedStatements = map[string]string{
	"get_request":       `SELECT id, user_id, url, title, status, created_at, completed_at FROM research_requests WHERE id = $1`,
	"list_questions":    `SELECT id, request_id, question, answer FROM research_followup_questions WHERE request_id = $1 ORDER BY seq`,
	"get_result":        `SELECT id, request_id, summary, left_perspective, center_perspective, right_perspective, factual_accuracy, sources, created_at FROM research_results WHERE request_id = $1`,
	"transition_status": `UPDATE research_requests SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
	"get_session":       `SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = $1 AND expires_at > now()`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS research_requests (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id      TEXT NOT NULL REFERENCES users(id),
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS research_followup_questions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	seq        BIGINT GENERATED ALWAYS AS IDENTITY,
	request_id TEXT NOT NULL REFERENCES research_requests(id) ON DELETE CASCADE,
	question   TEXT NOT NULL,
	answer     TEXT
);

CREATE TABLE IF NOT EXISTS research_results (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	request_id         TEXT NOT NULL UNIQUE REFERENCES research_requests(id) ON DELETE CASCADE,
	summary            TEXT NOT NULL,
	left_perspective   TEXT NOT NULL,
	center_perspective TEXT NOT NULL,
	right_perspective  TEXT NOT NULL,
	factual_accuracy   INTEGER NOT NULL,
	sources            JSONB NOT NULL DEFAULT '[]',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_requests_user_id ON research_requests(user_id);
CREATE INDEX IF NOT EXISTS idx_requests_status ON research_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_user_created ON research_requests(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_questions_request_id ON research_followup_questions(request_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, userID, url, title string) (*model.ResearchRequest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_requests (id, user_id, url, title, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, userID, url, title, string(model.StatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert request")
	}

	return &model.ResearchRequest{
		ID:        id,
		UserID:    userID,
		URL:       url,
		Title:     title,
		Status:    model.StatusPending,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*model.ResearchRequest, error) {
	var r model.ResearchRequest
	var completedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, url, title, status, created_at, completed_at FROM research_requests WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.UserID, &r.URL, &r.Title, &r.Status, &r.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get request %s", id)
	}
	r.CompletedAt = completedAt
	return &r, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, userID string) ([]model.ResearchRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, url, title, status, created_at, completed_at FROM research_requests
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var requests []model.ResearchRequest
	for rows.Next() {
		var r model.ResearchRequest
		var completedAt *time.Time
		if err := rows.Scan(&r.ID, &r.UserID, &r.URL, &r.Title, &r.Status, &r.CreatedAt, &completedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan request")
		}
		r.CompletedAt = completedAt
		requests = append(requests, r)
	}
	return requests, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

func (s *PostgresStore) UpdateRequestTitle(ctx context.Context, id, title string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_requests SET title = $1 WHERE id = $2`,
		title, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request title %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("request not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error) {
	var tag pgconn.CommandTag
	var err error
	switch to {
	case model.StatusCompleted:
		tag, err = s.pool.Exec(ctx,
			`UPDATE research_requests SET status = $1, completed_at = $2 WHERE id = $3 AND status = $4`,
			string(to), time.Now().UTC(), id, string(from),
		)
	case model.StatusInProgress:
		// Record when work actually began; the staleness sweep keys off
		// this, not created_at, since a request may sit pending for days
		// while the user answers follow-ups.
		tag, err = s.pool.Exec(ctx,
			`UPDATE research_requests SET status = $1, started_at = $2 WHERE id = $3 AND status = $4`,
			string(to), time.Now().UTC(), id, string(from),
		)
	default:
		tag, err = s.pool.Exec(ctx,
			`UPDATE research_requests SET status = $1 WHERE id = $2 AND status = $3`,
			string(to), id, string(from),
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: transition request %s", id)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CountRequestsByStatus(ctx context.Context, status model.RequestStatus) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM research_requests WHERE status = $1`,
		string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count requests")
}

func (s *PostgresStore) MarkStaleInProgress(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_requests SET status = $1 WHERE status = $2 AND COALESCE(started_at, created_at) <= $3`,
		string(model.StatusFailed), string(model.StatusInProgress), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: mark stale in_progress")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateQuestions(ctx context.Context, requestID string, questions []string) ([]model.FollowupQuestion, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	created := make([]model.FollowupQuestion, 0, len(questions))
	for _, q := range questions {
		id := uuid.New().String()
		if _, err := tx.Exec(ctx,
			`INSERT INTO research_followup_questions (id, request_id, question) VALUES ($1, $2, $3)`,
			id, requestID, q,
		); err != nil {
			return nil, eris.Wrapf(err, "postgres: insert question for request %s", requestID)
		}
		created = append(created, model.FollowupQuestion{ID: id, RequestID: requestID, Question: q})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit questions")
	}
	return created, nil
}

func (s *PostgresStore) GetQuestion(ctx context.Context, id string) (*model.FollowupQuestion, error) {
	var q model.FollowupQuestion
	err := s.pool.QueryRow(ctx,
		`SELECT id, request_id, question, answer FROM research_followup_questions WHERE id = $1`,
		id,
	).Scan(&q.ID, &q.RequestID, &q.Question, &q.Answer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get question %s", id)
	}
	return &q, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, requestID string) ([]model.FollowupQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, request_id, question, answer FROM research_followup_questions
		 WHERE request_id = $1 ORDER BY seq`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list questions")
	}
	defer rows.Close()

	var questions []model.FollowupQuestion
	for rows.Next() {
		var q model.FollowupQuestion
		if err := rows.Scan(&q.ID, &q.RequestID, &q.Question, &q.Answer); err != nil {
			return nil, eris.Wrap(err, "postgres: scan question")
		}
		questions = append(questions, q)
	}
	return questions, eris.Wrap(rows.Err(), "postgres: list questions iterate")
}

func (s *PostgresStore) AnswerQuestion(ctx context.Context, id, answer string) (*model.FollowupQuestion, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE research_followup_questions SET answer = $1 WHERE id = $2`,
		answer, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: answer question %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return s.GetQuestion(ctx, id)
}

func (s *PostgresStore) CreateResult(ctx context.Context, result *model.ResearchResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	sourcesJSON, err := marshalSources(result.Sources)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sources")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_results
		 (id, request_id, summary, left_perspective, center_perspective, right_perspective, factual_accuracy, sources, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		result.ID, result.RequestID, result.Summary,
		result.LeftPerspective, result.CenterPerspective, result.RightPerspective,
		result.FactualAccuracy, []byte(sourcesJSON), result.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert result for request %s", result.RequestID)
}

func (s *PostgresStore) GetResultByRequest(ctx context.Context, requestID string) (*model.ResearchResult, error) {
	var res model.ResearchResult
	var sourcesJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, request_id, summary, left_perspective, center_perspective, right_perspective, factual_accuracy, sources, created_at
		 FROM research_results WHERE request_id = $1`,
		requestID,
	).Scan(&res.ID, &res.RequestID, &res.Summary,
		&res.LeftPerspective, &res.CenterPerspective, &res.RightPerspective,
		&res.FactualAccuracy, &sourcesJSON, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get result")
	}
	if err := unmarshalSources(string(sourcesJSON), &res.Sources); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal sources")
	}
	return &res, nil
}

func (s *PostgresStore) DeleteResultByRequest(ctx context.Context, requestID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM research_results WHERE request_id = $1`, requestID)
	return eris.Wrapf(err, "postgres: delete result for request %s", requestID)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get user")
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, created_at FROM users WHERE email = $1`,
		email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get user by email")
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)`,
		u.ID, u.Email, u.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert user")
	}
	return u, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = $1 AND expires_at > now()`,
		token,
	).Scan(&sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get session")
	}
	return &sess, nil
}

func (s *PostgresStore) SetSession(ctx context.Context, session *model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token) DO UPDATE SET user_id = $2, expires_at = $4`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set session")
}

func (s *PostgresStore) DestroySession(ctx context.Context, token string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token = $1`, token)
	return eris.Wrap(err, "postgres: destroy session")
}

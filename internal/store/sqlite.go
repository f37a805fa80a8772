package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/prismnews/research-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sessions (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS research_requests (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	started_at   DATETIME,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS research_followup_questions (
	id         TEXT PRIMARY KEY,
	request_id TEXT NOT NULL REFERENCES research_requests(id) ON DELETE CASCADE,
	question   TEXT NOT NULL,
	answer     TEXT
);

CREATE TABLE IF NOT EXISTS research_results (
	id                 TEXT PRIMARY KEY,
	request_id         TEXT NOT NULL UNIQUE REFERENCES research_requests(id) ON DELETE CASCADE,
	summary            TEXT NOT NULL,
	left_perspective   TEXT NOT NULL,
	center_perspective TEXT NOT NULL,
	right_perspective  TEXT NOT NULL,
	factual_accuracy   INTEGER NOT NULL,
	sources            TEXT NOT NULL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_requests_user_id ON research_requests(user_id);
CREATE INDEX IF NOT EXISTS idx_requests_status ON research_requests(status);
CREATE INDEX IF NOT EXISTS idx_questions_request_id ON research_followup_questions(request_id);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, userID, url, title string) (*model.ResearchRequest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO research_requests (id, user_id, url, title, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, url, title, string(model.StatusPending), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert request")
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

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*model.ResearchRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, url, title, status, created_at, completed_at FROM research_requests WHERE id = ?`,
		id,
	)
	return scanRequest(row)
}

func (s *SQLiteStore) ListRequests(ctx context.Context, userID string) ([]model.ResearchRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, url, title, status, created_at, completed_at FROM research_requests
		 WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var requests []model.ResearchRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

func (s *SQLiteStore) UpdateRequestTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_requests SET title = ? WHERE id = ?`,
		title, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request title %s", id)
	}
	return checkRowsAffected(res, "request", id)
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, from, to model.RequestStatus) (bool, error) {
	var res sql.Result
	var err error
	switch to {
	case model.StatusCompleted:
		res, err = s.db.ExecContext(ctx,
			`UPDATE research_requests SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(to), time.Now().UTC(), id, string(from),
		)
	case model.StatusInProgress:
		// Record when work actually began; the staleness sweep keys off
		// this, not created_at, since a request may sit pending for days
		// while the user answers follow-ups.
		res, err = s.db.ExecContext(ctx,
			`UPDATE research_requests SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			string(to), time.Now().UTC(), id, string(from),
		)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE research_requests SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, string(from),
		)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: transition request %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) CountRequestsByStatus(ctx context.Context, status model.RequestStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM research_requests WHERE status = ?`,
		string(status),
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count requests")
}

func (s *SQLiteStore) MarkStaleInProgress(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_requests SET status = ? WHERE status = ? AND COALESCE(started_at, created_at) <= ?`,
		string(model.StatusFailed), string(model.StatusInProgress), cutoff,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: mark stale in_progress")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateQuestions(ctx context.Context, requestID string, questions []string) ([]model.FollowupQuestion, error) {
	if len(questions) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	created := make([]model.FollowupQuestion, 0, len(questions))
	for _, q := range questions {
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO research_followup_questions (id, request_id, question) VALUES (?, ?, ?)`,
			id, requestID, q,
		); err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert question for request %s", requestID)
		}
		created = append(created, model.FollowupQuestion{ID: id, RequestID: requestID, Question: q})
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit questions")
	}
	return created, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*model.FollowupQuestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, question, answer FROM research_followup_questions WHERE id = ?`,
		id,
	)
	return scanQuestion(row)
}

func (s *SQLiteStore) ListQuestions(ctx context.Context, requestID string) ([]model.FollowupQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, question, answer FROM research_followup_questions
		 WHERE request_id = ? ORDER BY rowid`,
		requestID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list questions")
	}
	defer rows.Close()

	var questions []model.FollowupQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, eris.Wrap(rows.Err(), "sqlite: list questions iterate")
}

func (s *SQLiteStore) AnswerQuestion(ctx context.Context, id, answer string) (*model.FollowupQuestion, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE research_followup_questions SET answer = ? WHERE id = ?`,
		answer, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: answer question %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetQuestion(ctx, id)
}

func (s *SQLiteStore) CreateResult(ctx context.Context, result *model.ResearchResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	sourcesJSON, err := marshalSources(result.Sources)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sources")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_results
		 (id, request_id, summary, left_perspective, center_perspective, right_perspective, factual_accuracy, sources, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.RequestID, result.Summary,
		result.LeftPerspective, result.CenterPerspective, result.RightPerspective,
		result.FactualAccuracy, sourcesJSON, result.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert result for request %s", result.RequestID)
}

func (s *SQLiteStore) GetResultByRequest(ctx context.Context, requestID string) (*model.ResearchResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, request_id, summary, left_perspective, center_perspective, right_perspective, factual_accuracy, sources, created_at
		 FROM research_results WHERE request_id = ?`,
		requestID,
	)
	return scanResult(row)
}

func (s *SQLiteStore) DeleteResultByRequest(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM research_results WHERE request_id = ?`, requestID)
	return eris.Wrapf(err, "sqlite: delete result for request %s", requestID)
}

func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get user")
	}
	return &u, nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, created_at FROM users WHERE email = ?`,
		email,
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get user by email")
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert user")
	}
	return u, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions
		 WHERE token = ? AND expires_at > ?`,
		token, time.Now().UTC(),
	).Scan(&sess.Token, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get session")
	}
	return &sess, nil
}

func (s *SQLiteStore) SetSession(ctx context.Context, session *model.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (token) DO UPDATE SET user_id = excluded.user_id, expires_at = excluded.expires_at`,
		session.Token, session.UserID, session.CreatedAt, session.ExpiresAt,
	)
	return eris.Wrap(err, "sqlite: set session")
}

func (s *SQLiteStore) DestroySession(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	return eris.Wrap(err, "sqlite: destroy session")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRequest(row scannable) (*model.ResearchRequest, error) {
	var r model.ResearchRequest
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.UserID, &r.URL, &r.Title, &r.Status, &r.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan request")
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func scanQuestion(row scannable) (*model.FollowupQuestion, error) {
	var q model.FollowupQuestion
	var answer sql.NullString

	err := row.Scan(&q.ID, &q.RequestID, &q.Question, &answer)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan question")
	}
	if answer.Valid {
		a := answer.String
		q.Answer = &a
	}
	return &q, nil
}

func scanResult(row scannable) (*model.ResearchResult, error) {
	var res model.ResearchResult
	var sourcesJSON string

	err := row.Scan(&res.ID, &res.RequestID, &res.Summary,
		&res.LeftPerspective, &res.CenterPerspective, &res.RightPerspective,
		&res.FactualAccuracy, &sourcesJSON, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan result")
	}
	if err := unmarshalSources(sourcesJSON, &res.Sources); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal sources")
	}
	return &res, nil
}

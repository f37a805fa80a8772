// Package research implements the deep-research orchestration engine: a
// durable state machine that takes a submitted URL through content
// extraction, optional user-answered follow-up questions, and an
// asynchronous multi-perspective analysis.
package research

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/prismnews/research-engine/internal/model"
	"github.com/prismnews/research-engine/internal/resilience"
	"github.com/prismnews/research-engine/internal/store"
	"github.com/prismnews/research-engine/pkg/analyzer"
)

// placeholderTitle marks a request whose content could not be extracted.
// Creation still succeeds; the user can proceed regardless.
const placeholderTitle = "Error Extracting Content"

// writeTimeout bounds the terminal-state writes that happen after the
// analysis context may already be expired.
const writeTimeout = 10 * time.Second

// Config tunes orchestrator behavior. Zero values get defaults in New.
type Config struct {
	MaxFollowups    int           // cap on proposed follow-up questions
	QuestionTimeout time.Duration // budget for the question-proposal call
	AnalysisTimeout time.Duration // budget for one full analysis run
	ExtractTimeout  time.Duration // budget for synchronous extraction
	MaxConcurrent   int64         // bound on simultaneous analysis tasks

	EstimateBaseSecs        int // static floor for completion estimates
	EstimatePerInflightSecs int // added per in-flight request
}

func (c Config) withDefaults() Config {
	if c.MaxFollowups <= 0 {
		c.MaxFollowups = analyzer.MaxQuestions
	}
	if c.QuestionTimeout <= 0 {
		c.QuestionTimeout = 30 * time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 2 * time.Minute
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.EstimateBaseSecs <= 0 {
		c.EstimateBaseSecs = 60
	}
	if c.EstimatePerInflightSecs < 0 {
		c.EstimatePerInflightSecs = 0
	}
	return c
}

// Orchestrator owns all status transitions of research requests. The
// store underneath is passive; every state-machine decision happens here.
type Orchestrator struct {
	store     store.Store
	extractor Extractor
	analyzer  analyzer.Client
	cfg       Config

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates an Orchestrator.
func New(st store.Store, ex Extractor, an analyzer.Client, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:     st,
		extractor: ex,
		analyzer:  an,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// CreateOutput is the result of CreateRequest.
type CreateOutput struct {
	Request           *model.ResearchRequest
	FollowupQuestions []model.FollowupQuestion
	EstimatedSeconds  int
}

// CreateRequest validates the URL, persists a pending request, extracts
// content synchronously, backfills the title once when the caller did not
// supply one, and determines follow-up questions. Extraction and
// question-determination failures degrade; they never abort creation.
func (o *Orchestrator) CreateRequest(ctx context.Context, userID, rawURL, title string) (*CreateOutput, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}

	req, err := o.store.CreateRequest(ctx, userID, rawURL, title)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	log := zap.L().With(zap.String("request_id", req.ID))

	content, extracted := o.extract(ctx, req.URL, log)

	// Backfill the title when the caller omitted one. A degraded
	// extraction still writes the placeholder so the request is not
	// nameless in listings.
	if req.Title == "" && content.Title != "" {
		if err := o.store.UpdateRequestTitle(ctx, req.ID, content.Title); err != nil {
			log.Warn("title backfill failed", zap.Error(err))
		} else {
			req.Title = content.Title
		}
	}

	questions := o.determineFollowups(ctx, content.Text, req.ID, log)

	log.Info("research request created",
		zap.String("url", req.URL),
		zap.Bool("extracted", extracted),
		zap.Int("followup_questions", len(questions)),
	)

	return &CreateOutput{
		Request:           req,
		FollowupQuestions: questions,
		EstimatedSeconds:  o.EstimateCompletionTime(ctx),
	}, nil
}

// AnswerFollowup sets the answer on a follow-up question. Re-answering
// overwrites; the parent request's state is deliberately not checked, as
// a late answer is harmless.
func (o *Orchestrator) AnswerFollowup(ctx context.Context, questionID, answer string) (*model.FollowupQuestion, error) {
	if strings.TrimSpace(answer) == "" {
		return nil, &ValidationError{Field: "answer", Reason: "must not be empty"}
	}

	q, err := o.store.AnswerQuestion(ctx, questionID, answer)
	if err != nil {
		return nil, eris.Wrap(err, "answer followup")
	}
	if q == nil {
		return nil, &NotFoundError{Entity: "followup question", ID: questionID}
	}
	return q, nil
}

// StartResearch flips the request from pending to in_progress and
// schedules the analysis. The flip is a compare-and-swap, so of N
// concurrent start calls exactly one wins; the rest get an
// InvalidTransitionError. Returns the estimated completion time.
func (o *Orchestrator) StartResearch(ctx context.Context, requestID, callerUserID string) (int, error) {
	req, err := o.getOwned(ctx, requestID, callerUserID)
	if err != nil {
		return 0, err
	}

	ok, err := o.store.TransitionStatus(ctx, requestID, model.StatusPending, model.StatusInProgress)
	if err != nil {
		return 0, eris.Wrap(err, "start research")
	}
	if !ok {
		// Lost the race or the request has already moved on; report the
		// state it is actually in.
		if cur, gerr := o.store.GetRequest(ctx, requestID); gerr == nil && cur != nil {
			req = cur
		}
		return 0, &InvalidTransitionError{ID: requestID, Status: req.Status}
	}
	req.Status = model.StatusInProgress

	estimate := o.EstimateCompletionTime(ctx)

	o.wg.Add(1)
	go o.analysisTask(req)

	zap.L().Info("research started",
		zap.String("request_id", requestID),
		zap.Int("estimated_seconds", estimate),
	)
	return estimate, nil
}

// GetRequest returns the request, its questions, and its result when one
// exists. A completed request with no result row is an invariant
// violation; it is reported as failed and logged.
func (o *Orchestrator) GetRequest(ctx context.Context, requestID, callerUserID string) (*model.RequestDetail, error) {
	req, err := o.getOwned(ctx, requestID, callerUserID)
	if err != nil {
		return nil, err
	}

	questions, err := o.store.ListQuestions(ctx, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "get request questions")
	}

	detail := &model.RequestDetail{
		Request:           *req,
		FollowupQuestions: questions,
	}

	if req.Status == model.StatusCompleted {
		result, err := o.store.GetResultByRequest(ctx, requestID)
		if err != nil {
			return nil, eris.Wrap(err, "get request result")
		}
		if result == nil {
			zap.L().Warn("completed request has no result row, reporting as failed",
				zap.String("request_id", requestID))
			detail.Request.Status = model.StatusFailed
		} else {
			detail.Result = result
		}
	}

	return detail, nil
}

// ListRequests returns the caller's requests, newest first.
func (o *Orchestrator) ListRequests(ctx context.Context, userID string) ([]model.ResearchRequest, error) {
	requests, err := o.store.ListRequests(ctx, userID)
	if err != nil {
		return nil, eris.Wrap(err, "list requests")
	}
	return requests, nil
}

// EstimateCompletionTime returns an advisory estimate in seconds derived
// from the current in-flight count. Always positive; never gates
// anything.
func (o *Orchestrator) EstimateCompletionTime(ctx context.Context) int {
	estimate := o.cfg.EstimateBaseSecs
	inflight, err := o.store.CountRequestsByStatus(ctx, model.StatusInProgress)
	if err != nil {
		zap.L().Warn("in-flight count unavailable, using base estimate", zap.Error(err))
		return estimate
	}
	return estimate + inflight*o.cfg.EstimatePerInflightSecs
}

// Wait blocks until all in-flight analysis tasks finish or ctx is done.
// Called on shutdown so running analyses are not silently dropped.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getOwned fetches a request and verifies ownership.
func (o *Orchestrator) getOwned(ctx context.Context, requestID, callerUserID string) (*model.ResearchRequest, error) {
	req, err := o.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, eris.Wrap(err, "get request")
	}
	if req == nil {
		return nil, &NotFoundError{Entity: "research request", ID: requestID}
	}
	if req.UserID != callerUserID {
		return nil, &ForbiddenError{Entity: "research request", ID: requestID}
	}
	return req, nil
}

// extract runs the content extractor with a bounded timeout, degrading
// any failure to a placeholder so the flow continues.
func (o *Orchestrator) extract(ctx context.Context, rawURL string, log *zap.Logger) (*Content, bool) {
	ectx, cancel := context.WithTimeout(ctx, o.cfg.ExtractTimeout)
	defer cancel()

	content, err := o.extractor.Extract(ectx, rawURL)
	if err != nil {
		log.Warn("content extraction failed, continuing degraded",
			zap.String("url", rawURL),
			zap.Error(err),
		)
		return &Content{Title: placeholderTitle, Text: ""}, false
	}
	return content, true
}

// determineFollowups asks the analyzer whether clarifying questions would
// help and persists them. Fail-open: any error yields zero questions.
func (o *Orchestrator) determineFollowups(ctx context.Context, text, requestID string, log *zap.Logger) []model.FollowupQuestion {
	qctx, cancel := context.WithTimeout(ctx, o.cfg.QuestionTimeout)
	defer cancel()

	proposed, err := o.analyzer.ProposeQuestions(qctx, text)
	if err != nil {
		log.Warn("follow-up determination failed, proceeding without questions", zap.Error(err))
		return nil
	}
	if len(proposed) > o.cfg.MaxFollowups {
		proposed = proposed[:o.cfg.MaxFollowups]
	}
	if len(proposed) == 0 {
		return nil
	}

	created, err := o.store.CreateQuestions(ctx, requestID, proposed)
	if err != nil {
		log.Warn("persisting follow-up questions failed", zap.Error(err))
		return nil
	}
	return created
}

// analysisTask is the asynchronous half of StartResearch. It runs under
// a bounded worker slot with its own deadline, detached from the
// triggering HTTP request.
func (o *Orchestrator) analysisTask(req *model.ResearchRequest) {
	defer o.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.AnalysisTimeout)
	defer cancel()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.failRequest(req.ID, eris.Wrap(err, "acquire analysis slot"))
		return
	}
	defer o.sem.Release(1)

	o.runAnalysis(ctx, req)
}

func (o *Orchestrator) runAnalysis(ctx context.Context, req *model.ResearchRequest) {
	log := zap.L().With(zap.String("request_id", req.ID))
	started := time.Now()

	// Re-extract rather than caching from creation: content may have
	// changed, and the creation-time extraction may have degraded.
	content, extracted := o.extract(ctx, req.URL, log)

	// A successful re-extraction can upgrade a missing or placeholder
	// title from creation time.
	if (req.Title == "" || req.Title == placeholderTitle) && extracted && content.Title != "" {
		if err := o.store.UpdateRequestTitle(ctx, req.ID, content.Title); err != nil {
			log.Warn("title backfill failed", zap.Error(err))
		}
	}

	questions, err := o.store.ListQuestions(ctx, req.ID)
	if err != nil {
		log.Warn("loading follow-up answers failed, analyzing without them", zap.Error(err))
		questions = nil
	}

	input := buildAnalysisContext(content.Text, questions)

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 2
	retryCfg.OnRetry = resilience.RetryLogger("analyzer", "analyze")

	analysis, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*analyzer.Analysis, error) {
		return o.analyzer.Analyze(ctx, input)
	})
	if err != nil {
		o.failRequest(req.ID, eris.Wrap(err, "perspective analysis"))
		return
	}

	result := &model.ResearchResult{
		RequestID:         req.ID,
		Summary:           analysis.Summary,
		LeftPerspective:   analysis.LeftPerspective,
		CenterPerspective: analysis.CenterPerspective,
		RightPerspective:  analysis.RightPerspective,
		FactualAccuracy:   clampAccuracy(analysis.FactualAccuracy),
		Sources:           analysis.Sources,
	}

	// Terminal writes get a fresh context: the analysis deadline may be
	// spent, and the failure path must still be able to record failure.
	wctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := o.store.CreateResult(wctx, result); err != nil {
		o.failRequest(req.ID, eris.Wrap(err, "persist result"))
		return
	}

	ok, err := o.store.TransitionStatus(wctx, req.ID, model.StatusInProgress, model.StatusCompleted)
	if err != nil {
		log.Error("completing transition failed", zap.Error(err))
		return
	}
	if !ok {
		// The request left in_progress under us, most likely swept to
		// failed. A result row may only exist alongside a completed
		// request, so take the insert back.
		if derr := o.store.DeleteResultByRequest(wctx, req.ID); derr != nil {
			log.Error("discarding orphaned result failed", zap.Error(derr))
		}
		log.Warn("request no longer in_progress, result discarded")
		return
	}

	log.Info("research completed",
		zap.Int("factual_accuracy", result.FactualAccuracy),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// failRequest records the failed terminal state. The cause is logged,
// never surfaced to the caller beyond the status.
func (o *Orchestrator) failRequest(requestID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	zap.L().Error("research analysis failed",
		zap.String("request_id", requestID),
		zap.Error(cause),
	)

	ok, err := o.store.TransitionStatus(ctx, requestID, model.StatusInProgress, model.StatusFailed)
	if err != nil {
		zap.L().Error("failure transition errored",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return
	}
	if !ok {
		zap.L().Warn("failure transition skipped, request not in_progress",
			zap.String("request_id", requestID))
	}
}

// buildAnalysisContext assembles the analyzer input: extracted text plus
// one Q/A block per answered question. Unanswered questions are skipped.
func buildAnalysisContext(text string, questions []model.FollowupQuestion) string {
	var b strings.Builder
	b.WriteString(text)

	wroteHeader := false
	for _, q := range questions {
		if !q.Answered() {
			continue
		}
		if !wroteHeader {
			b.WriteString("\n\nAdditional context from user:\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "Q: %s\nA: %s\n\n", q.Question, *q.Answer)
	}
	return b.String()
}

// clampAccuracy coerces the analyzer's accuracy score into [1,10],
// defaulting a missing score to the neutral midpoint.
func clampAccuracy(n int) int {
	switch {
	case n == 0:
		return 5
	case n < 1:
		return 1
	case n > 10:
		return 10
	}
	return n
}

// validateURL requires a syntactically valid absolute http(s) URL.
func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	if !u.IsAbs() || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: "url", Reason: "scheme must be http or https"}
	}
	return nil
}

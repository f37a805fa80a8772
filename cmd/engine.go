package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prismnews/research-engine/internal/auth"
	"github.com/prismnews/research-engine/internal/research"
	"github.com/prismnews/research-engine/internal/store"
	"github.com/prismnews/research-engine/pkg/analyzer"
	"github.com/prismnews/research-engine/pkg/extract"
	"github.com/prismnews/research-engine/pkg/reader"
)

// engineEnv holds the initialized store, orchestrator, and auth service
// needed by the serve command.
type engineEnv struct {
	Store store.Store
	Orch  *research.Orchestrator
	Auth  *auth.Service
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "research.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store, extraction and analysis clients, the
// orchestrator, and the auth service. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	if err := cfg.Validate("serve"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Reader API when a key is present, local goquery extraction otherwise.
	var extractor research.Extractor
	if cfg.Reader.Key != "" {
		readerClient := reader.NewClient(cfg.Reader.Key,
			reader.WithBaseURL(cfg.Reader.BaseURL),
			reader.WithRateLimit(cfg.Reader.RateLimit),
		)
		extractor = research.NewReaderExtractor(readerClient)
		zap.L().Info("content extraction via reader api")
	} else {
		extractor = research.NewLocalExtractor(extract.New(nil))
		zap.L().Info("RESEARCH_READER_KEY not set, using local extraction")
	}

	analyzerClient := analyzer.NewClient(cfg.Anthropic.Key,
		analyzer.WithModel(cfg.Anthropic.Model),
		analyzer.WithMaxTokens(int64(cfg.Anthropic.MaxTokens)),
	)

	orch := research.New(st, extractor, analyzerClient, research.Config{
		MaxFollowups:            cfg.Research.MaxFollowups,
		QuestionTimeout:         time.Duration(cfg.Research.QuestionTimeoutSecs) * time.Second,
		AnalysisTimeout:         time.Duration(cfg.Research.AnalysisTimeoutSecs) * time.Second,
		ExtractTimeout:          time.Duration(cfg.Research.ExtractTimeoutSecs) * time.Second,
		MaxConcurrent:           int64(cfg.Research.MaxConcurrent),
		EstimateBaseSecs:        cfg.Research.EstimateBaseSecs,
		EstimatePerInflightSecs: cfg.Research.EstimatePerInflightSecs,
	})

	authSvc := auth.NewService(st, st, time.Duration(cfg.Auth.SessionTTLHours)*time.Hour)

	return &engineEnv{Store: st, Orch: orch, Auth: authSvc}, nil
}

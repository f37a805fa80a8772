package research

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prismnews/research-engine/internal/store"
)

// Sweeper reconciles requests stuck in in_progress, e.g. after a process
// crash mid-analysis. Anything older than the threshold is marked failed
// so clients polling the status are not left waiting forever.
type Sweeper struct {
	store     store.Store
	olderThan time.Duration
	interval  time.Duration
}

// NewSweeper creates a Sweeper. Zero durations get defaults of 10m
// staleness and a 1m interval.
func NewSweeper(st store.Store, olderThan, interval time.Duration) *Sweeper {
	if olderThan <= 0 {
		olderThan = 10 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: st, olderThan: olderThan, interval: interval}
}

// SweepOnce marks stale in_progress requests failed and returns how many
// were reconciled.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	n, err := s.store.MarkStaleInProgress(ctx, s.olderThan)
	if err != nil {
		return 0, eris.Wrap(err, "sweep stale requests")
	}
	if n > 0 {
		zap.L().Warn("reconciled stale in_progress requests",
			zap.Int("count", n),
			zap.Duration("older_than", s.olderThan),
		)
	}
	return n, nil
}

// Run sweeps on a ticker until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				zap.L().Error("sweep failed", zap.Error(err))
			}
		}
	}
}

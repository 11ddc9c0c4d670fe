// Package janitor periodically purges expired tasks and orphaned scratch
// directories on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes tasks whose last activity is older than retention.
type Sweeper interface {
	Sweep(ctx context.Context, retention time.Duration) (int, error)
}

// Janitor runs a Sweeper on a schedule.
type Janitor struct {
	cron      *cron.Cron
	sweeper   Sweeper
	retention time.Duration
	logger    *slog.Logger
	stopOnce  sync.Once
}

// New creates a Janitor that sweeps with the given cron schedule, such as
// "@every 5m" or "*/10 * * * *". Overlapping runs are skipped.
func New(sweeper Sweeper, schedule string, retention time.Duration, logger *slog.Logger) (*Janitor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		sweeper:   sweeper,
		retention: retention,
		logger:    logger,
	}

	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid GC schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running sweeps in the background.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started",
		slog.Duration("retention", j.retention),
	)
}

// Stop halts the schedule and waits for a running sweep to finish.
// Safe to call multiple times.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() {
		<-j.cron.Stop().Done()
		j.logger.Info("janitor stopped")
	})
}

// RunOnce performs a single sweep.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	return j.sweeper.Sweep(ctx, j.retention)
}

func (j *Janitor) run() {
	removed, err := j.RunOnce(context.Background())
	if err != nil {
		j.logger.Error("sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		j.logger.Info("sweep removed expired tasks", slog.Int("removed", removed))
	}
}

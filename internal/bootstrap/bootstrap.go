// Package bootstrap provides dependency initialization for the audio split API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/audiosplit-api/internal/audio"
	"github.com/maauso/audiosplit-api/internal/config"
	"github.com/maauso/audiosplit-api/internal/janitor"
	"github.com/maauso/audiosplit-api/internal/metrics"
	"github.com/maauso/audiosplit-api/internal/runner"
	"github.com/maauso/audiosplit-api/internal/storage"
	"github.com/maauso/audiosplit-api/internal/task"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	TaskService    *task.Service
	Runner         *runner.Runner
	Janitor        *janitor.Janitor // nil when GC is disabled
	MetricsHandler http.Handler
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	scratch, err := storage.NewLocalScratch(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("create scratch area: %w", err)
	}
	logger.Info("scratch area configured",
		slog.String("scratch_dir", scratch.Root()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	runnerOpts := []runner.Option{
		runner.WithMaxConcurrent(cfg.MaxConcurrentTasks),
		runner.WithTimeout(cfg.TaskTimeout),
		runner.WithMetrics(m),
	}

	mirror, err := initMirror(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if mirror != nil {
		runnerOpts = append(runnerOpts, runner.WithMirror(mirror))
	}

	store := task.NewMemoryStore()
	codec := audio.NewFFmpegCodec(cfg.FFmpegPath, cfg.FFprobePath)
	r := runner.New(store, codec, scratch, logger, runnerOpts...)
	svc := task.NewService(store, scratch, r, m, logger)

	deps := &Dependencies{
		TaskService:    svc,
		Runner:         r,
		MetricsHandler: metrics.Handler(reg),
	}

	if cfg.GCEnabled() {
		j, err := janitor.New(svc, cfg.GCSchedule, cfg.Retention, logger)
		if err != nil {
			return nil, err
		}
		deps.Janitor = j
	}

	return deps, nil
}

// initMirror creates the S3 artifact mirror when S3 is configured.
func initMirror(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Mirror, error) {
	if !cfg.S3Enabled() {
		return nil, nil
	}

	mirror, err := storage.NewS3Mirror(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Prefix:          cfg.S3Prefix,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 mirror: %w", err)
	}

	logger.Info("S3 mirror configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return mirror, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"dooriq/internal/config"
	"dooriq/internal/logging"
	"dooriq/internal/notifications"
	"dooriq/internal/phrasecache"
	"dooriq/internal/pipeline"
	"dooriq/internal/queue"
	"dooriq/internal/ratings"
	"dooriq/internal/services/llm"
	"dooriq/internal/workers"
)

// gradingRuntime is the in-process equivalent of the daemon: a worker pool
// draining rating batches plus the stage pipeline, sharing one store. The CLI
// uses it for one-shot grading so `dooriq grade` works without a running
// daemon.
type gradingRuntime struct {
	store *queue.Store
	pool  *workers.Pool
	pipe  *pipeline.Pipeline
}

func newGradingRuntime(cfg *config.Config, store *queue.Store, logger *slog.Logger) *gradingRuntime {
	notifier := notifications.NewService(cfg)

	cachePath := ""
	if cfg.Cache.Enabled {
		cachePath = cfg.PhraseCachePath()
	}
	cache := phrasecache.New(cachePath, time.Duration(cfg.Cache.TTLHours)*time.Hour, logger)
	rater := ratings.NewRater(llm.NewClient(cfg.LLM), cache, logger)

	return &gradingRuntime{
		store: store,
		pool:  workers.NewPool(store, rater, cfg.Workers, logger, workers.WithNotifier(notifier)),
		pipe:  pipeline.New(cfg, store, logger, pipeline.WithNotifier(notifier)),
	}
}

func (r *gradingRuntime) start(ctx context.Context) error {
	return r.pool.Start(ctx)
}

func (r *gradingRuntime) grade(ctx context.Context, req pipeline.Request) (*queue.Session, error) {
	return r.pipe.Run(ctx, req)
}

// awaitSession polls until the session reaches a terminal state. The deep
// grade and rating batches run concurrently, so polling the store is the one
// place both outcomes converge.
func (r *gradingRuntime) awaitSession(ctx context.Context, sessionID string, timeout time.Duration) (*queue.Session, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		session, err := r.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if session == nil {
			return nil, fmt.Errorf("session %s not found", sessionID)
		}
		if session.Status == queue.StatusCompleted || session.Status == queue.StatusFailed {
			return session, nil
		}
		if time.Now().After(deadline) {
			return session, fmt.Errorf("session %s still %s after %s", sessionID, session.Status, timeout)
		}
		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *gradingRuntime) shutdown() {
	r.pipe.Wait()
	r.pool.Stop()
}

func (c *commandContext) runtimeLogger(cfg *config.Config) (*slog.Logger, error) {
	if !c.verbose() {
		return logging.NewNop(), nil
	}
	return logging.NewFromConfig(cfg)
}

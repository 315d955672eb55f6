package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"dooriq/internal/api"
	"dooriq/internal/config"
	"dooriq/internal/logging"
	"dooriq/internal/metrics"
	"dooriq/internal/notifications"
	"dooriq/internal/phrasecache"
	"dooriq/internal/pipeline"
	"dooriq/internal/queue"
	"dooriq/internal/ratings"
	"dooriq/internal/services"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
	"dooriq/internal/workers"
)

// Daemon coordinates the grading services and enforces single-instance
// execution: the worker pool, the HTTP API, the phrase cache sweep, and the
// stale-session reclaimer all share its lifecycle.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	pipe     *pipeline.Pipeline
	pool     *workers.Pool
	cache    *phrasecache.Cache
	notifier notifications.Service
	sweeper  *cron.Cron
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	QueueDBPath  string
	LockFilePath string
	Health       queue.HealthSummary
}

// Option customizes daemon construction, mainly for tests.
type Option func(*Daemon)

// WithPipeline replaces the grading pipeline.
func WithPipeline(p *pipeline.Pipeline) Option {
	return func(d *Daemon) { d.pipe = p }
}

// WithPool replaces the line-rating worker pool.
func WithPool(p *workers.Pool) Option {
	return func(d *Daemon) { d.pool = p }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	notifier := notifications.NewService(cfg)

	cachePath := ""
	if cfg.Cache.Enabled {
		cachePath = cfg.PhraseCachePath()
	}
	cache := phrasecache.New(cachePath, time.Duration(cfg.Cache.TTLHours)*time.Hour, logger)

	rater := ratings.NewRater(llm.NewClient(cfg.LLM), cache, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "dooriqd.lock")
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		pool:     workers.NewPool(store, rater, cfg.Workers, logger, workers.WithNotifier(notifier)),
		pipe:     pipeline.New(cfg, store, logger, pipeline.WithNotifier(notifier)),
		cache:    cache,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}

	apiSrv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

// Start acquires the daemon lock and launches the background services. Jobs
// orphaned by a previous crash are reset before any worker runs.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dooriq daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)

	reset, err := d.store.ResetStuckJobs(runCtx)
	if err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("reset orphaned rating jobs", logging.Int64("count", reset))
	}

	if err := d.pool.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start worker pool: %w", err)
	}

	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.pool.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}

	d.cancel = cancel
	d.startSweeper()
	d.wg.Add(1)
	go d.runMaintenance(runCtx)

	d.running.Store(true)
	d.logger.Info("dooriq daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop drains background services and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	d.pool.Stop()
	d.pipe.Wait()
	if d.sweeper != nil {
		<-d.sweeper.Stop().Done()
		d.sweeper = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dooriq daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Grade runs the pipeline for one submitted transcript. It returns once the
// synchronous stages are persisted and the rating batches are enqueued.
func (d *Daemon) Grade(ctx context.Context, req api.GradeRequest) (*queue.Session, error) {
	records := make([]transcript.Record, 0, len(req.Transcript))
	for _, line := range req.Transcript {
		records = append(records, transcript.Record{
			Speaker:   line.Speaker,
			Text:      line.Text,
			Timestamp: line.Timestamp,
		})
	}
	return d.pipe.Run(ctx, pipeline.Request{
		SessionID: req.SessionID,
		Records:   records,
		Duration:  time.Duration(req.DurationSeconds * float64(time.Second)),
		Speech: metrics.SpeechPayload{
			Expected: req.SpeechExpected,
			Data:     req.Speech,
		},
	})
}

// APIAddr returns the HTTP API's bound address, empty until Start succeeds
// or when no bind address is configured.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// TestNotification sends a test message through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.Publish(ctx, notifications.EventTest, nil)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("store health check failed", logging.Error(err))
	}
	return Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Health:       health,
	}
}

// startSweeper schedules the periodic phrase cache staleness sweep.
func (d *Daemon) startSweeper() {
	if !d.cfg.Cache.Enabled || d.cfg.Cache.SweepSchedule == "" {
		return
	}
	sweeper := cron.New()
	_, err := sweeper.AddFunc(d.cfg.Cache.SweepSchedule, func() {
		removed, err := d.cache.Sweep()
		if err != nil {
			d.logger.Warn("phrase cache sweep failed", logging.Error(err))
			return
		}
		if removed > 0 {
			d.logger.Info("phrase cache swept", logging.Int("removed", removed))
		}
	})
	if err != nil {
		d.logger.Warn("invalid cache sweep schedule",
			logging.String("schedule", d.cfg.Cache.SweepSchedule),
			logging.Error(err))
		return
	}
	sweeper.Start()
	d.sweeper = sweeper
}

// runMaintenance periodically returns sessions whose grading run died before
// reaching the worker pool back to not_started, then re-runs the pipeline
// for every session parked there with a stored transcript. Retried and
// reclaimed sessions both land in not_started, so this loop is the one
// place regrading resumes.
func (d *Daemon) runMaintenance(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.Workflow.QueuePollInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := time.Duration(d.cfg.Workers.HeartbeatTimeout) * time.Second

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if timeout > 0 {
				reclaimed, err := d.store.ReclaimStaleSessions(ctx, time.Now().Add(-timeout))
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						d.logger.Warn("stale session reclaim failed", logging.Error(err))
					}
					continue
				}
				if reclaimed > 0 {
					d.logger.Info("reclaimed stale sessions", logging.Int64("count", reclaimed))
				}
			}
			d.resumePending(ctx, interval)
		}
	}
}

// resumePending regrades sessions parked in not_started. Sessions updated
// within the last interval are left alone; their original run may still be
// advancing toward the first stage write.
func (d *Daemon) resumePending(ctx context.Context, interval time.Duration) {
	sessions, err := d.store.ListResumable(ctx, time.Now().Add(-interval))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			d.logger.Warn("list resumable sessions failed", logging.Error(err))
		}
		return
	}

	for _, session := range sessions {
		var records []transcript.Record
		if err := json.Unmarshal([]byte(session.TranscriptJSON), &records); err != nil {
			d.logger.Warn("stored transcript is unreadable",
				logging.String(logging.FieldSessionID, session.SessionID),
				logging.Error(err))
			_ = d.store.MarkFailed(ctx, session.SessionID, "stored transcript is unreadable")
			continue
		}

		_, err := d.pipe.Run(ctx, pipeline.Request{
			SessionID: session.SessionID,
			Records:   records,
			Duration:  time.Duration(session.DurationSeconds * float64(time.Second)),
		})
		if err != nil {
			if isValidationError(err) {
				// Run fails fast on bad input without writing state;
				// park the session so the loop does not spin on it.
				_ = d.store.MarkFailed(ctx, session.SessionID, err.Error())
			}
			if !errors.Is(err, context.Canceled) {
				d.logger.Warn("session resume failed",
					logging.String(logging.FieldSessionID, session.SessionID),
					logging.Error(err))
			}
			continue
		}
		d.logger.Info("resumed session grading",
			logging.String(logging.FieldSessionID, session.SessionID))
	}
}

// isValidationError reports whether err stems from bad caller input.
func isValidationError(err error) bool {
	return errors.Is(err, services.ErrValidation)
}

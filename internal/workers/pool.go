package workers

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"dooriq/internal/config"
	"dooriq/internal/logging"
	"dooriq/internal/notifications"
	"dooriq/internal/queue"
	"dooriq/internal/ratings"
)

type batchRater interface {
	RateBatch(ctx context.Context, batch ratings.Batch) []ratings.LineRating
}

// Pool consumes queued rating jobs with bounded concurrency and a global
// rate limit. Batches for one session may complete in any order; the merge
// in queue.CompleteJob keeps the result order-independent.
type Pool struct {
	store  *queue.Store
	rater  batchRater
	cfg    config.Workers
	logger *slog.Logger

	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	limiter  *time.Ticker
	notifier notifications.Service
}

// Option customizes pool construction.
type Option func(*Pool)

// WithNotifier publishes a completion notification when the pool records the
// final write of a session.
func WithNotifier(n notifications.Service) Option {
	return func(p *Pool) { p.notifier = n }
}

// NewPool constructs a worker pool over the store and rater.
func NewPool(store *queue.Store, rater batchRater, cfg config.Workers, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pool{
		store:        store,
		rater:        rater,
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "workers"),
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker goroutines. The pool keeps claiming jobs until
// Stop is called or the context is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	if p.cfg.RatePerSecond > 0 {
		p.limiter = time.NewTicker(time.Second / time.Duration(p.cfg.RatePerSecond))
	}

	concurrency := p.cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	p.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go p.runWorker(runCtx, i)
	}
	if p.cfg.HeartbeatTimeout > 0 {
		p.wg.Add(1)
		go p.runReclaimer(runCtx)
	}

	p.logger.Info("worker pool started",
		logging.Int("concurrency", concurrency),
		logging.Int("rate_per_second", p.cfg.RatePerSecond))
	return nil
}

// Stop drains the pool and waits for in-flight batches to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	if p.limiter != nil {
		p.limiter.Stop()
		p.limiter = nil
	}
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !p.waitForSlot(ctx) {
			return
		}

		job, err := p.store.ClaimNextJob(ctx)
		if err != nil {
			logger.Error("failed to claim rating job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check sessions database access"))
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, p.pollInterval) {
				return
			}
			continue
		}

		p.processJob(ctx, logger, job)
	}
}

// waitForSlot blocks on the shared rate limiter. Returns false on shutdown.
func (p *Pool) waitForSlot(ctx context.Context) bool {
	if p.limiter == nil {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-p.limiter.C:
		return true
	}
}

func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(
		logging.String(logging.FieldSessionID, job.SessionID),
		logging.Int(logging.FieldBatchIndex, job.BatchIndex))

	batch, err := job.Batch()
	if err != nil {
		// A payload that cannot decode never succeeds on retry.
		logger.Error("rating job payload undecodable",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_payload_invalid"))
		if failErr := p.store.FailJob(ctx, job.ID, job.SessionID, err.Error()); failErr != nil {
			logger.Error("failed to mark job failed", logging.Error(failErr))
		}
		return
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go p.heartbeatLoop(heartbeatCtx, &hbWG, job.ID)

	results := p.rater.RateBatch(ctx, batch)

	stopHeartbeat()
	hbWG.Wait()

	progress, err := p.store.CompleteJob(ctx, job.ID, job.SessionID, results)
	if err != nil {
		p.handleBatchFailure(ctx, logger, job, err)
		return
	}

	logger.Info("rating batch complete",
		logging.String(logging.FieldEventType, "rating_batch_complete"),
		logging.Int("completed_batches", progress.CompletedBatches),
		logging.Int("total_batches", progress.TotalBatches))

	if progress.Done {
		finished, err := p.store.TryFinishSession(ctx, job.SessionID)
		if err != nil {
			logger.Error("session completion check failed", logging.Error(err))
			return
		}
		if finished {
			logger.Info("session grading complete",
				logging.String(logging.FieldEventType, "session_completed"))
			p.notifyCompleted(ctx, job.SessionID)
		}
	}
}

func (p *Pool) notifyCompleted(ctx context.Context, sessionID string) {
	if p.notifier == nil {
		return
	}
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return
	}
	payload := notifications.Payload{
		"sessionId":    sessionID,
		"overallScore": strconv.Itoa(session.OverallScore),
		"saleClosed":   strconv.FormatBool(session.SaleClosed),
	}
	if err := p.notifier.Publish(ctx, notifications.EventGradingCompleted, payload); err != nil {
		p.logger.Warn("completion notification failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err))
	}
}

// handleBatchFailure requeues the batch with exponential backoff until the
// retry limit, then fails the job permanently.
func (p *Pool) handleBatchFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	retryLimit := p.cfg.BatchRetryLimit
	if retryLimit < 1 {
		retryLimit = 1
	}
	if job.Attempts >= retryLimit {
		logger.Error("rating batch failed permanently",
			logging.Error(cause),
			logging.String(logging.FieldEventType, "rating_batch_failed"),
			logging.Int("attempts", job.Attempts))
		if err := p.store.FailJob(ctx, job.ID, job.SessionID, cause.Error()); err != nil {
			logger.Error("failed to mark job failed", logging.Error(err))
		}
		return
	}

	delay := time.Duration(p.cfg.BatchBackoffSeconds) * time.Second
	if delay <= 0 {
		delay = time.Second
	}
	delay <<= job.Attempts - 1

	logger.Warn("rating batch failed, requeueing",
		logging.Error(cause),
		logging.String(logging.FieldEventType, "rating_batch_retry"),
		logging.Int("attempts", job.Attempts),
		logging.Duration("backoff", delay))

	if !sleepCtx(ctx, delay) {
		return
	}
	if err := p.store.RequeueJob(ctx, job.ID, cause.Error()); err != nil {
		logger.Error("failed to requeue job", logging.Error(err))
	}
}

// runReclaimer periodically returns jobs with expired heartbeats to pending
// so work orphaned by a crashed worker is picked up again.
func (p *Pool) runReclaimer(ctx context.Context) {
	defer p.wg.Done()
	interval := time.Duration(p.cfg.HeartbeatInterval) * time.Second
	if interval <= 0 {
		interval = 15 * time.Second
	}
	timeout := time.Duration(p.cfg.HeartbeatTimeout) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := p.store.ReclaimStaleJobs(ctx, time.Now().Add(-timeout))
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					p.logger.Warn("stale job reclaim failed",
						logging.Error(err),
						logging.String(logging.FieldEventType, "job_reclaim_failed"),
						logging.String(logging.FieldErrorHint, "check sessions database access"))
				}
				continue
			}
			if reclaimed > 0 {
				p.logger.Info("reclaimed stale rating jobs", logging.Int64("count", reclaimed))
			}
		}
	}
}

func (p *Pool) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, jobID int64) {
	defer wg.Done()
	interval := time.Duration(p.cfg.HeartbeatInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateJobHeartbeat(ctx, jobID); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("job heartbeat update failed", logging.Error(err))
			}
		}
	}
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"dooriq/internal/config"
	"dooriq/internal/deepgrade"
	"dooriq/internal/logging"
	"dooriq/internal/metrics"
	"dooriq/internal/moments"
	"dooriq/internal/notifications"
	"dooriq/internal/patterns"
	"dooriq/internal/queue"
	"dooriq/internal/ratings"
	"dooriq/internal/services"
	"dooriq/internal/services/llm"
	"dooriq/internal/transcript"
)

const (
	defaultMomentTimeout    = 30 * time.Second
	defaultDeepGradeTimeout = 60 * time.Second
	defaultAttemptLimit     = 3
	defaultAttemptBackoff   = 2 * time.Second
)

// Request carries everything needed to grade one conversation.
type Request struct {
	SessionID string
	Records   []transcript.Record
	Duration  time.Duration
	// Speech is the optional external speech-quality payload for the
	// instant stage.
	Speech metrics.SpeechPayload
}

// Pipeline sequences the grading stages for a session: instant metrics, key
// moments, line-rating enqueue, and the background deep grade. Stage results
// are persisted as soon as each stage finishes, so a poller always sees the
// best data available.
type Pipeline struct {
	store     *queue.Store
	cfg       *config.Config
	metrics   *metrics.Stage
	extractor *moments.Extractor
	grader    *deepgrade.Grader
	notifier  notifications.Service
	logger    *slog.Logger

	wg sync.WaitGroup
}

// Option customizes pipeline construction, mainly for tests.
type Option func(*Pipeline)

// WithExtractor replaces the key-moment extractor.
func WithExtractor(e *moments.Extractor) Option {
	return func(p *Pipeline) { p.extractor = e }
}

// WithGrader replaces the deep-grade stage.
func WithGrader(g *deepgrade.Grader) Option {
	return func(p *Pipeline) { p.grader = g }
}

// WithNotifier publishes completion and failure events for graded sessions.
func WithNotifier(n notifications.Service) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// New builds a pipeline wired to the configured LLM endpoints. The same
// pattern engine backs both the instant stage and the extractor so their
// classifications always agree.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	engine := patterns.NewEngine()
	p := &Pipeline{
		store:     store,
		cfg:       cfg,
		metrics:   metrics.NewStage(engine, logger),
		extractor: moments.NewExtractor(engine, llm.NewClient(cfg.LLM), cfg.Grading.MaxMoments, logger),
		grader:    deepgrade.NewGrader(llm.NewClient(cfg.DeepGradeLLM()), cfg.DeepGrade.MaxTokens, logger),
		logger:    logging.NewComponentLogger(logger, "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run grades one session through every stage. It returns once the synchronous
// stages have persisted and the line-rating batches are enqueued; the deep
// grade continues in the background and the caller observes its result by
// polling. Input errors fail fast without writing any session state.
func (p *Pipeline) Run(ctx context.Context, req Request) (*queue.Session, error) {
	if req.SessionID == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "run", "session id is required", nil)
	}
	tr, err := transcript.FromRecords(req.SessionID, req.Records)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "run", "invalid transcript", err)
	}
	tr.Duration = req.Duration
	ctx = services.WithSessionID(ctx, req.SessionID)

	transcriptJSON, err := json.Marshal(req.Records)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "run", "encode transcript", err)
	}

	session, err := p.store.NewSession(ctx, req.SessionID, string(transcriptJSON), req.Duration.Seconds())
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "run", "create session record", err)
	}

	if err := p.runInstant(ctx, session, tr, req.Speech); err != nil {
		return nil, p.fail(ctx, req.SessionID, err)
	}
	if err := p.runMoments(ctx, session, tr); err != nil {
		return nil, p.fail(ctx, req.SessionID, err)
	}
	if err := p.enqueueRatings(ctx, session, tr); err != nil {
		return nil, p.fail(ctx, req.SessionID, err)
	}

	p.wg.Add(1)
	go p.runDeepGrade(context.WithoutCancel(ctx), tr, req.Duration)

	return p.store.GetSession(ctx, req.SessionID)
}

// Wait blocks until every background deep-grade goroutine has finished. Used
// by the daemon's drain path and by tests.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) runInstant(ctx context.Context, session *queue.Session, tr *transcript.Transcript, speech metrics.SpeechPayload) error {
	ctx = services.WithStage(ctx, "instant")
	instant := p.metrics.Compute(tr, speech)
	encoded, err := json.Marshal(instant)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "instant", "encode metrics", err)
	}

	session.InstantMetricsJSON = string(encoded)
	session.Status = queue.StatusInstantComplete
	if err := p.store.UpdateSession(ctx, session); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "instant", "persist metrics", err)
	}
	p.heartbeat(ctx, session.SessionID)

	logging.WithContext(ctx, p.logger).Info("instant metrics persisted",
		logging.Int("overall", instant.Overall))
	return nil
}

func (p *Pipeline) runMoments(ctx context.Context, session *queue.Session, tr *transcript.Transcript) error {
	ctx = services.WithStage(ctx, "moments")
	timeout := defaultMomentTimeout
	if p.cfg.Grading.MomentTimeoutSeconds > 0 {
		timeout = time.Duration(p.cfg.Grading.MomentTimeoutSeconds) * time.Second
	}
	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	selected, err := p.extractor.Extract(mctx, tr)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "moments", "extract key moments", err)
	}
	encoded, err := json.Marshal(selected)
	if err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "moments", "encode key moments", err)
	}

	session.KeyMomentsJSON = string(encoded)
	session.Status = queue.StatusMomentsComplete
	if err := p.store.UpdateSession(ctx, session); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "moments", "persist key moments", err)
	}
	p.heartbeat(ctx, session.SessionID)

	logging.WithContext(ctx, p.logger).Info("key moments persisted",
		logging.Int("moment_count", len(selected)))
	return nil
}

// enqueueRatings partitions the rep lines into durable jobs and hands the
// session to the worker pool. A transcript with no rep lines has nothing to
// rate, so its rating slice completes immediately.
func (p *Pipeline) enqueueRatings(ctx context.Context, session *queue.Session, tr *transcript.Transcript) error {
	ctx = services.WithStage(ctx, "ratings")
	batches := ratings.Partition(session.SessionID, tr.RepLines(), p.cfg.Workers.BatchSize)

	if len(batches) == 0 {
		session.Status = queue.StatusProcessing
		session.LineRatingsStatus = queue.BatchesCompleted
		if err := p.store.UpdateSession(ctx, session); err != nil {
			return services.Wrap(services.ErrTransient, "pipeline", "enqueue", "persist empty rating slice", err)
		}
		return nil
	}

	if err := p.store.EnqueueBatches(ctx, batches); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "enqueue", "enqueue rating batches", err)
	}
	if err := p.store.SetStatus(ctx, session.SessionID, queue.StatusProcessing); err != nil {
		return services.Wrap(services.ErrTransient, "pipeline", "enqueue", "set processing status", err)
	}

	logging.WithContext(ctx, p.logger).Info("rating batches enqueued",
		logging.Int("batch_count", len(batches)))
	return nil
}

// runDeepGrade holds the deep-grade retry budget. Transient LLM failures are
// retried with doubling backoff; a deterministic failure or an exhausted
// budget fails the session while leaving every other stage's results intact.
func (p *Pipeline) runDeepGrade(ctx context.Context, tr *transcript.Transcript, duration time.Duration) {
	defer p.wg.Done()
	ctx = services.WithStage(ctx, "deepgrade")
	logger := logging.WithContext(ctx, p.logger)

	timeout := defaultDeepGradeTimeout
	if p.cfg.DeepGrade.TimeoutSeconds > 0 {
		timeout = time.Duration(p.cfg.DeepGrade.TimeoutSeconds) * time.Second
	}
	limit := p.cfg.Workers.JobAttemptLimit
	if limit < 1 {
		limit = defaultAttemptLimit
	}
	backoff := defaultAttemptBackoff
	if p.cfg.Workers.JobBackoffSeconds > 0 {
		backoff = time.Duration(p.cfg.Workers.JobBackoffSeconds) * time.Second
	}

	var result *deepgrade.Result
	var err error
	for attempt := 1; ; attempt++ {
		gctx, cancel := context.WithTimeout(ctx, timeout)
		result, err = p.grader.Grade(gctx, tr, duration.Seconds())
		cancel()
		if err == nil {
			break
		}
		if attempt >= limit || !services.Retryable(err) {
			logger.Error("deep grade failed",
				logging.Int("attempts", attempt),
				logging.Error(err))
			p.failDeepGrade(ctx, tr.SessionID, err)
			return
		}
		logger.Warn("deep grade attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(err))
		if !sleepCtx(ctx, backoff) {
			p.failDeepGrade(ctx, tr.SessionID, ctx.Err())
			return
		}
		backoff *= 2
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		p.failDeepGrade(ctx, tr.SessionID, err)
		return
	}
	if err := p.store.SetDeepGrade(ctx, tr.SessionID, string(encoded), result.OverallScore, result.SaleClosed); err != nil {
		logger.Error("persist deep grade failed", logging.Error(err))
		return
	}

	logger.Info("deep grade persisted",
		logging.Int("overall_score", result.OverallScore),
		logging.Bool("sale_closed", result.SaleClosed),
		logging.Bool("content_flagged", result.ContentFlagged))

	finished, err := p.store.TryFinishSession(ctx, tr.SessionID)
	if err != nil {
		logger.Error("finish session failed", logging.Error(err))
		return
	}
	if finished {
		logger.Info("session grading completed",
			logging.String(logging.FieldEventType, "session_completed"))
		p.publish(ctx, notifications.EventGradingCompleted, notifications.Payload{
			"sessionId":    tr.SessionID,
			"overallScore": strconv.Itoa(result.OverallScore),
			"saleClosed":   strconv.FormatBool(result.SaleClosed),
		})
	}
}

func (p *Pipeline) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, event, payload); err != nil {
		p.logger.Warn("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err))
	}
}

// fail records a synchronous stage failure on the session. Results persisted
// by earlier stages stay visible.
func (p *Pipeline) fail(ctx context.Context, sessionID string, stageErr error) error {
	details := services.Details(stageErr)
	logging.WithContext(ctx, p.logger).Error("session grading failed",
		logging.String("error_kind", string(details.Kind)),
		logging.Error(stageErr))
	if err := p.store.MarkFailed(ctx, sessionID, stageErr.Error()); err != nil {
		p.logger.Error("mark session failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err))
	}
	p.publish(ctx, notifications.EventGradingFailed, notifications.Payload{
		"sessionId": sessionID,
		"error":     stageErr.Error(),
	})
	return stageErr
}

func (p *Pipeline) failDeepGrade(ctx context.Context, sessionID string, cause error) {
	message := "deep grade failed"
	if cause != nil {
		message = cause.Error()
	}
	if err := p.store.MarkFailed(ctx, sessionID, message); err != nil {
		p.logger.Error("mark session failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err))
	}
	p.publish(ctx, notifications.EventGradingFailed, notifications.Payload{
		"sessionId": sessionID,
		"error":     message,
	})
}

func (p *Pipeline) heartbeat(ctx context.Context, sessionID string) {
	if err := p.store.UpdateSessionHeartbeat(ctx, sessionID); err != nil {
		p.logger.Warn("session heartbeat failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

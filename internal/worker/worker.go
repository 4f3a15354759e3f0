package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/message"
	"github.com/teemow/inboxresponder/internal/queue"
	"github.com/teemow/inboxresponder/internal/triage"
)

// DefaultInterJobPause is the pause after every job.
const DefaultInterJobPause = 5 * time.Second

// Classifier assigns a category to message text.
type Classifier interface {
	Classify(ctx context.Context, text string) (triage.Category, error)
}

// Responder writes the reply body for a category. An empty reply means no
// reply is sent.
type Responder interface {
	GenerateReply(ctx context.Context, category triage.Category, text, sender string) (string, error)
}

// Labeler applies a label by name.
type Labeler interface {
	ApplyLabel(ctx context.Context, messageID, name string) error
}

// ReplySender delivers a reply.
type ReplySender interface {
	SendReply(ctx context.Context, reply message.Reply) error
}

// JobSource is the part of queue.Queue the worker consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) (queue.State, error)
}

// Dependencies are the collaborators a job needs.
type Dependencies struct {
	Classifier Classifier
	Responder  Responder
	Labels     Labeler
	Sender     ReplySender
}

// Config controls job handling.
type Config struct {
	// InterJobPause is slept after every job. Zero disables pacing.
	InterJobPause time.Duration

	// MarkProcessedOnFailure applies PROCESSED even when the classifier or
	// responder failed. When false such a failure is returned to the queue
	// for a retry, and only the final attempt labels the message regardless.
	MarkProcessedOnFailure bool
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		InterJobPause:          DefaultInterJobPause,
		MarkProcessedOnFailure: true,
	}
}

// Worker processes jobs sequentially.
type Worker struct {
	queue   JobSource
	deps    Dependencies
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger

	running atomic.Bool
	lastJob atomic.Int64
}

// New creates a Worker. metrics and audit may be nil.
func New(q JobSource, deps Dependencies, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics, audit *instrumentation.AuditLogger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InterJobPause < 0 {
		cfg.InterJobPause = 0
	}
	return &Worker{
		queue:   q,
		deps:    deps,
		cfg:     cfg,
		logger:  logging.WithComponent(logger, "worker"),
		metrics: metrics,
		audit:   audit,
	}
}

// Run consumes jobs until ctx is cancelled. A job interrupted by shutdown is
// left running for queue.Recover.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	w.logger.Info("worker started",
		slog.Duration("inter_job_pause", w.cfg.InterJobPause),
		slog.Bool("mark_processed_on_failure", w.cfg.MarkProcessedOnFailure))

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("worker stopped")
				return nil
			}
			w.logger.Error("failed to dequeue job", logging.Err(err))
			if !w.pause(ctx) {
				return nil
			}
			continue
		}

		w.Handle(ctx, job)

		if !w.pause(ctx) {
			w.logger.Info("worker stopped")
			return nil
		}
	}
}

// Running reports whether Run is consuming jobs.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// LastJob returns when the last job was settled; zero if none has been.
func (w *Worker) LastJob() time.Time {
	n := w.lastJob.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Handle processes one dequeued job and settles it in the queue. It returns
// the job outcome, one of the instrumentation.JobOutcome values, or "" when
// the job was abandoned because ctx was cancelled.
func (w *Worker) Handle(ctx context.Context, job *queue.Job) string {
	ctx, span := instrumentation.StartJobSpan(ctx, instrumentation.NewSpanAttributeBuilder().
		WithJob(job.ID, job.Attempt).
		WithMessage(job.MessageID).
		WithSender(job.Sender).
		Build()...)
	defer span.End()

	logger := logging.WithJob(w.logger, job.ID, job.MessageID, job.Attempt)
	audit := instrumentation.NewJobAudit(job.ID, job.MessageID, job.Sender, job.Attempt).WithSpanContext(ctx)

	err := w.safeProcess(ctx, logger, job, audit)
	if audit.Category != "" {
		instrumentation.SetSpanCategory(span, audit.Category)
	}

	// Side effects attempted on a cancelled ctx may not have happened, so
	// the job stays running and queue.Recover hands it out again.
	if cerr := ctx.Err(); cerr != nil {
		if err == nil {
			err = cerr
		}
		logger.Warn("job interrupted by shutdown", logging.Err(err))
		instrumentation.SetSpanError(span, err)
		return ""
	}

	// Settle even if shutdown begins now; the work is already done.
	settleCtx := context.WithoutCancel(ctx)
	outcome := w.settle(settleCtx, logger, job, err)

	if err != nil {
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}

	audit.Complete(outcome, err)
	w.audit.LogJob(audit)
	w.metrics.RecordJob(settleCtx, outcome, job.Sender, audit.Duration)
	w.lastJob.Store(time.Now().UnixNano())
	return outcome
}

func (w *Worker) settle(ctx context.Context, logger *slog.Logger, job *queue.Job, procErr error) string {
	if procErr == nil || errors.Is(procErr, ErrInvalidJob) {
		if err := w.queue.Complete(ctx, job.ID); err != nil {
			logger.Error("failed to complete job", logging.Err(err))
		}
		if procErr != nil {
			return instrumentation.JobOutcomeInvalid
		}
		return instrumentation.JobOutcomeSucceeded
	}

	state, err := w.queue.Fail(ctx, job.ID, procErr)
	if err != nil {
		logger.Error("failed to record job failure", logging.Err(err), slog.String("cause", procErr.Error()))
		return instrumentation.JobOutcomeRetried
	}
	if state == queue.StateDead {
		logger.Error("job is dead", logging.Err(procErr))
		return instrumentation.JobOutcomeDead
	}
	logger.Warn("job failed, will retry", logging.Err(procErr))
	return instrumentation.JobOutcomeRetried
}

// safeProcess turns a panic in the handler into a job failure.
func (w *Worker) safeProcess(ctx context.Context, logger *slog.Logger, job *queue.Job, audit *instrumentation.JobAudit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job handler panicked", slog.Any("panic", r))
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return w.process(ctx, logger, job, audit)
}

func (w *Worker) process(ctx context.Context, logger *slog.Logger, job *queue.Job, audit *instrumentation.JobAudit) error {
	if err := Validate(job); err != nil {
		logger.Warn("dropping invalid job", logging.Err(err))
		if job.MessageID != "" {
			w.applyLabel(ctx, logger, audit, job.MessageID, triage.LabelProcessed)
		}
		return err
	}

	// A failure is only handed back to the queue when the policy allows it
	// and another attempt remains.
	retryable := !w.cfg.MarkProcessedOnFailure && !job.FinalAttempt()

	category, err := w.classify(ctx, job.Body)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("classification interrupted: %w", err)
	}
	audit.Category = category.String()
	w.metrics.RecordClassification(ctx, category.String())
	if err != nil {
		logger.Warn("classification failed", logging.Err(err))
		if retryable && !errors.Is(err, triage.ErrUnparseable) {
			return fmt.Errorf("failed to classify message: %w", err)
		}
	}
	logger = logger.With(logging.Category(category.String()))

	if category.NeedsReply() {
		if err := w.respond(ctx, logger, job, category, audit); err != nil && (retryable || ctx.Err() != nil) {
			return err
		}
	}

	w.applyLabel(ctx, logger, audit, job.MessageID, triage.LabelProcessed)
	logger.Info("job processed", slog.Bool("replied", audit.Replied))
	return nil
}

func (w *Worker) classify(ctx context.Context, body string) (triage.Category, error) {
	if body == "" {
		return triage.Null, nil
	}
	category, err := w.deps.Classifier.Classify(ctx, body)
	if err != nil {
		return triage.Null, err
	}
	return category, nil
}

// respond generates the reply, labels the category and sends the reply, in
// that order. The returned error is the responder failure, if any; label and
// delivery failures are only logged.
func (w *Worker) respond(ctx context.Context, logger *slog.Logger, job *queue.Job, category triage.Category, audit *instrumentation.JobAudit) error {
	body, genErr := w.deps.Responder.GenerateReply(ctx, category, job.Body, job.Sender)
	if genErr != nil {
		logger.Warn("reply generation failed", logging.Err(genErr))
		body = ""
		if ctx.Err() != nil || (!w.cfg.MarkProcessedOnFailure && !job.FinalAttempt()) {
			w.metrics.RecordReply(ctx, instrumentation.StatusError)
			return fmt.Errorf("failed to generate reply: %w", genErr)
		}
	}

	w.applyLabel(ctx, logger, audit, job.MessageID, category.Label())

	if body == "" {
		status := instrumentation.StatusSkipped
		if genErr != nil {
			status = instrumentation.StatusError
		}
		w.metrics.RecordReply(ctx, status)
		return genErr
	}

	err := w.deps.Sender.SendReply(ctx, message.Reply{
		To:        job.Sender,
		Subject:   category.Subject(),
		Body:      body,
		ThreadID:  job.ThreadID,
		InReplyTo: job.RFCMessageID,
	})
	if err != nil {
		logger.Warn("failed to send reply", logging.Err(err), logging.Sender(job.Sender))
		w.metrics.RecordReply(ctx, instrumentation.StatusError)
		return nil
	}

	audit.Replied = true
	w.metrics.RecordReply(ctx, instrumentation.StatusSuccess)
	logger.Info("reply sent", logging.Sender(job.Sender))
	return nil
}

func (w *Worker) applyLabel(ctx context.Context, logger *slog.Logger, audit *instrumentation.JobAudit, messageID, name string) {
	if err := w.deps.Labels.ApplyLabel(ctx, messageID, name); err != nil {
		logger.Warn("failed to apply label", logging.Label(name), logging.Err(err))
		w.metrics.RecordLabelApplied(ctx, name, instrumentation.StatusError)
		return
	}
	audit.AddLabel(name)
	w.metrics.RecordLabelApplied(ctx, name, instrumentation.StatusSuccess)
}

// pause sleeps InterJobPause. It returns false if ctx was cancelled.
func (w *Worker) pause(ctx context.Context) bool {
	if w.cfg.InterJobPause <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(w.cfg.InterJobPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

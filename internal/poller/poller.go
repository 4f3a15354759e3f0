package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/message"
	"github.com/teemow/inboxresponder/internal/queue"
	"github.com/teemow/inboxresponder/internal/triage"
)

// Defaults applied to zero Config fields.
const (
	DefaultInterval = 20 * time.Second
	DefaultPageSize = 10
	DefaultQuery    = "in:inbox -label:" + triage.LabelProcessed
)

// ErrCycleInProgress is returned by PollOnce when another cycle is running.
var ErrCycleInProgress = errors.New("poll cycle already in progress")

// MessageSource lists and fetches mailbox messages.
type MessageSource interface {
	ListMessages(ctx context.Context, query string, pageSize int) ([]string, error)
	GetMessage(ctx context.Context, id string) (*message.Message, error)
}

// Enqueuer accepts jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job, opts queue.Options) (queue.Handle, error)
}

// LabelChecker reports whether a set of label IDs includes a named label.
type LabelChecker interface {
	HasLabel(ctx context.Context, labelIDs []string, name string) (bool, error)
}

// Config controls polling.
type Config struct {
	Query        string
	PageSize     int
	Interval     time.Duration
	EnqueueDelay time.Duration
	MaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.Query == "" {
		c.Query = DefaultQuery
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Result summarizes one poll cycle.
type Result struct {
	Listed     int
	Enqueued   int
	Duplicates int
	Skipped    int
	Failed     int
}

// Poller runs poll cycles.
type Poller struct {
	source  MessageSource
	queue   Enqueuer
	labels  LabelChecker
	cfg     Config
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	cycle     sync.Mutex
	lastCycle atomic.Int64
}

// New creates a Poller. labels may be nil, in which case only the list query
// excludes processed messages. metrics may be nil.
func New(source MessageSource, q Enqueuer, labels LabelChecker, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:  source,
		queue:   q,
		labels:  labels,
		cfg:     cfg.withDefaults(),
		logger:  logging.WithComponent(logger, "poller"),
		metrics: metrics,
	}
}

// Run polls immediately and then every Interval until ctx is cancelled.
// Cycle errors are logged; the next tick tries again.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("page_size", p.cfg.PageSize),
		slog.String("query", p.cfg.Query))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("poll cycle failed", logging.Err(err))
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single cycle. It returns ErrCycleInProgress without doing
// anything if a cycle is already running.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	if !p.cycle.TryLock() {
		p.metrics.RecordPollCycle(ctx, instrumentation.PollResultSkipped, 0, 0, 0, 0)
		return Result{}, ErrCycleInProgress
	}
	defer p.cycle.Unlock()

	ctx, span := instrumentation.StartSpan(ctx, instrumentation.SpanPollCycle)
	defer span.End()

	res, err := p.cycleOnce(ctx)

	span.SetAttributes(
		attribute.Int("poll.listed", res.Listed),
		attribute.Int("poll.enqueued", res.Enqueued),
		attribute.Int("poll.duplicates", res.Duplicates),
		attribute.Int("poll.skipped", res.Skipped),
		attribute.Int("poll.failed", res.Failed),
	)

	result := instrumentation.PollResultOK
	if err != nil {
		result = instrumentation.PollResultFailed
		instrumentation.SetSpanError(span, err)
	} else {
		p.lastCycle.Store(time.Now().UnixNano())
	}
	p.metrics.RecordPollCycle(ctx, result, res.Enqueued, res.Duplicates, res.Skipped, res.Failed)

	if err == nil && res.Listed > 0 {
		p.logger.Info("poll cycle completed",
			slog.Int("listed", res.Listed),
			slog.Int("enqueued", res.Enqueued),
			slog.Int("duplicates", res.Duplicates),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed))
	}
	return res, err
}

// LastCycle returns when the last successful cycle finished; zero if none has.
func (p *Poller) LastCycle() time.Time {
	n := p.lastCycle.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (p *Poller) cycleOnce(ctx context.Context) (Result, error) {
	ids, err := p.source.ListMessages(ctx, p.cfg.Query, p.cfg.PageSize)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list messages: %w", err)
	}

	res := Result{Listed: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch outcome := p.handle(ctx, id); outcome {
		case instrumentation.PollOutcomeEnqueued:
			res.Enqueued++
		case instrumentation.PollOutcomeDuplicate:
			res.Duplicates++
		case instrumentation.PollOutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
		}
	}
	return res, nil
}

// handle fetches one message and enqueues it. It returns the poll outcome.
func (p *Poller) handle(ctx context.Context, id string) string {
	logger := p.logger.With(logging.MessageID(id))

	msg, err := p.source.GetMessage(ctx, id)
	if err != nil {
		logger.Warn("failed to fetch message", logging.Err(err))
		return instrumentation.PollOutcomeFailed
	}

	if p.labels != nil {
		processed, err := p.labels.HasLabel(ctx, msg.LabelIDs, triage.LabelProcessed)
		if err != nil {
			logger.Warn("failed to check labels", logging.Err(err))
			return instrumentation.PollOutcomeFailed
		}
		if processed {
			logger.Debug("message already processed")
			return instrumentation.PollOutcomeSkipped
		}
	}

	content := message.ExtractContent(msg)
	if content.Sender == "" {
		logger.Debug("skipping message without sender")
		return instrumentation.PollOutcomeSkipped
	}
	if message.IsNoReply(content.Sender) {
		logger.Debug("skipping automated sender", logging.Domain(content.Sender))
		return instrumentation.PollOutcomeSkipped
	}

	h, err := p.queue.Enqueue(ctx, queue.Job{
		MessageID:    msg.ID,
		ThreadID:     msg.ThreadID,
		Sender:       content.Sender,
		Subject:      msg.Header("Subject"),
		RFCMessageID: msg.Header("Message-ID"),
		Body:         content.Body,
	}, queue.Options{
		Delay:       p.cfg.EnqueueDelay,
		MaxAttempts: p.cfg.MaxAttempts,
	})
	if err != nil {
		logger.Warn("failed to enqueue message", logging.Err(err))
		return instrumentation.PollOutcomeFailed
	}
	if h.Duplicate {
		logger.Debug("message already queued", logging.JobID(h.ID))
		return instrumentation.PollOutcomeDuplicate
	}

	logger.Info("message enqueued", logging.JobID(h.ID), logging.Sender(content.Sender))
	return instrumentation.PollOutcomeEnqueued
}

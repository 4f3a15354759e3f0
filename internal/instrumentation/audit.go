package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"github.com/teemow/inboxresponder/internal/logging"
)

// JobAudit captures what the worker did with one message, for the audit log.
//
// # Privacy Considerations
//
// The Sender field contains PII. LogAttrs hashes it; LogAuditAttrs includes it
// verbatim and should only be used when audit logs go to secured storage.
type JobAudit struct {
	JobID     string
	MessageID string
	Sender    string
	Attempt   int

	Category string
	Replied  bool
	Labels   []string

	StartTime time.Time
	Duration  time.Duration
	Outcome   string
	Error     string

	TraceID string
	SpanID  string
}

// NewJobAudit creates a new JobAudit with timing started.
// Call Complete() when the job finishes.
func NewJobAudit(jobID, messageID, sender string, attempt int) *JobAudit {
	return &JobAudit{
		JobID:     jobID,
		MessageID: messageID,
		Sender:    sender,
		Attempt:   attempt,
		StartTime: time.Now(),
	}
}

// WithSpanContext extracts trace context from the current span.
func (a *JobAudit) WithSpanContext(ctx context.Context) *JobAudit {
	a.TraceID = GetTraceID(ctx)
	a.SpanID = GetSpanID(ctx)
	return a
}

// AddLabel records a label that was applied to the message.
func (a *JobAudit) AddLabel(name string) {
	a.Labels = append(a.Labels, name)
}

// Complete marks the job as finished with the given outcome and calculates
// the duration.
func (a *JobAudit) Complete(outcome string, err error) *JobAudit {
	a.Duration = time.Since(a.StartTime)
	a.Outcome = outcome
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// Success reports whether the job succeeded.
func (a *JobAudit) Success() bool {
	return a.Outcome == JobOutcomeSucceeded
}

func (a *JobAudit) commonAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String(logging.KeyJobID, a.JobID),
		slog.String(logging.KeyMessageID, a.MessageID),
		slog.Int(logging.KeyAttempt, a.Attempt),
		slog.String("outcome", a.Outcome),
		slog.Duration(logging.KeyDuration, a.Duration),
	}
	if a.Category != "" {
		attrs = append(attrs, slog.String(logging.KeyCategory, a.Category))
	}
	attrs = append(attrs, slog.Bool("replied", a.Replied))
	if len(a.Labels) > 0 {
		attrs = append(attrs, slog.Any("labels", a.Labels))
	}
	if a.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", a.TraceID))
	}
	return attrs
}

// LogAttrs returns slog attributes with the sender anonymized.
func (a *JobAudit) LogAttrs() []slog.Attr {
	attrs := a.commonAttrs()
	attrs = append(attrs, logging.Sender(a.Sender), logging.Domain(a.Sender))
	if a.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, a.Error))
	}
	return attrs
}

// LogAuditAttrs returns slog attributes including the full sender address.
func (a *JobAudit) LogAuditAttrs() []slog.Attr {
	attrs := a.commonAttrs()
	attrs = append(attrs, slog.String("sender", a.Sender))
	if a.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", a.SpanID))
	}
	if a.Error != "" {
		attrs = append(attrs, slog.String(logging.KeyError, a.Error))
	}
	return attrs
}

// AuditLogger writes one structured record per processed job.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger that anonymizes senders.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return NewAuditLoggerWithConfig(logger, AuditLoggingConfig{Enabled: true})
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logging.WithComponent(logger, "audit"),
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// LogJob logs a finished job. Successful jobs log at info, everything else
// at warn. A nil AuditLogger logs nothing.
func (al *AuditLogger) LogJob(a *JobAudit) {
	if al == nil || !al.enabled || a == nil {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = a.LogAuditAttrs()
	} else {
		attrs = a.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if a.Success() {
		al.logger.Info("job_processed", args...)
	} else {
		al.logger.Warn("job_failed", args...)
	}
}

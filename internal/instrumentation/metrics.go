package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrOutcome   = "outcome"
	attrCategory  = "category"
	attrLabel     = "label"
	attrDomain    = "sender_domain"
	attrBreaker   = "breaker"
	attrState     = "state"
)

// Metrics provides methods for recording observability metrics. All methods
// are safe to call on a nil or zero Metrics and then record nothing.
type Metrics struct {
	// Google API metrics
	googleAPIOperationsTotal   metric.Int64Counter
	googleAPIOperationDuration metric.Float64Histogram

	// OAuth metrics
	oauthTokenRefreshTotal metric.Int64Counter

	// Poller metrics
	pollCyclesTotal   metric.Int64Counter
	pollMessagesTotal metric.Int64Counter

	// Worker metrics
	jobsProcessedTotal   metric.Int64Counter
	jobDuration          metric.Float64Histogram
	classificationsTotal metric.Int64Counter
	repliesTotal         metric.Int64Counter
	labelsAppliedTotal   metric.Int64Counter
	queueDeadJobsTotal   metric.Int64Counter

	// Circuit breaker metrics
	breakerStateChangesTotal metric.Int64Counter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// Google API Metrics
	m.googleAPIOperationsTotal, err = meter.Int64Counter(
		"google_api_operations_total",
		metric.WithDescription("Total number of Google API operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operations_total counter: %w", err)
	}

	m.googleAPIOperationDuration, err = meter.Float64Histogram(
		"google_api_operation_duration_seconds",
		metric.WithDescription("Google API operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google_api_operation_duration_seconds histogram: %w", err)
	}

	// OAuth Metrics
	m.oauthTokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	// Poller Metrics
	m.pollCyclesTotal, err = meter.Int64Counter(
		"poll_cycles_total",
		metric.WithDescription("Total number of poll cycles by result"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll_cycles_total counter: %w", err)
	}

	m.pollMessagesTotal, err = meter.Int64Counter(
		"poll_messages_total",
		metric.WithDescription("Total number of listed messages by poll outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll_messages_total counter: %w", err)
	}

	// Worker Metrics
	m.jobsProcessedTotal, err = meter.Int64Counter(
		"jobs_processed_total",
		metric.WithDescription("Total number of job deliveries by outcome"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create jobs_processed_total counter: %w", err)
	}

	m.jobDuration, err = meter.Float64Histogram(
		"job_duration_seconds",
		metric.WithDescription("Job processing duration in seconds, excluding the inter-job pause"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job_duration_seconds histogram: %w", err)
	}

	m.classificationsTotal, err = meter.Int64Counter(
		"classifications_total",
		metric.WithDescription("Total number of message classifications by category"),
		metric.WithUnit("{classification}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifications_total counter: %w", err)
	}

	m.repliesTotal, err = meter.Int64Counter(
		"replies_total",
		metric.WithDescription("Total number of automatic replies by status"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create replies_total counter: %w", err)
	}

	m.labelsAppliedTotal, err = meter.Int64Counter(
		"labels_applied_total",
		metric.WithDescription("Total number of label applications by label and status"),
		metric.WithUnit("{label}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create labels_applied_total counter: %w", err)
	}

	m.queueDeadJobsTotal, err = meter.Int64Counter(
		"queue_dead_jobs_total",
		metric.WithDescription("Total number of jobs moved to the dead state"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue_dead_jobs_total counter: %w", err)
	}

	m.breakerStateChangesTotal, err = meter.Int64Counter(
		"circuit_breaker_state_changes_total",
		metric.WithDescription("Total number of circuit breaker state changes"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit_breaker_state_changes_total counter: %w", err)
	}

	return m, nil
}

// RecordGoogleAPIOperation records a Google API operation with service, operation,
// status, and duration.
//
// Parameters:
//   - service: Google service name (gmail, generativelanguage)
//   - operation: Operation type (list, get, create, modify, send, generate)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m == nil || m.googleAPIOperationsTotal == nil || m.googleAPIOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.googleAPIOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.googleAPIOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordOAuthTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "failure"
func (m *Metrics) RecordOAuthTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.oauthTokenRefreshTotal == nil {
		return // Instrumentation not initialized
	}

	m.oauthTokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordPollCycle records one poll cycle and the per-message outcomes it produced.
func (m *Metrics) RecordPollCycle(ctx context.Context, result string, enqueued, duplicates, skipped, failed int) {
	if m == nil || m.pollCyclesTotal == nil || m.pollMessagesTotal == nil {
		return // Instrumentation not initialized
	}

	m.pollCyclesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))

	for outcome, n := range map[string]int{
		PollOutcomeEnqueued:  enqueued,
		PollOutcomeDuplicate: duplicates,
		PollOutcomeSkipped:   skipped,
		PollOutcomeFailed:    failed,
	} {
		if n > 0 {
			m.pollMessagesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String(attrOutcome, outcome)))
		}
	}
}

// RecordJob records a job delivery with its outcome and processing time.
// The sender domain is only attached when detailed labels are enabled.
func (m *Metrics) RecordJob(ctx context.Context, outcome, sender string, duration time.Duration) {
	if m == nil || m.jobsProcessedTotal == nil || m.jobDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOutcome, outcome),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && sender != "" {
		attrs = append(attrs, attribute.String(attrDomain, ExtractSenderDomain(sender)))
	}

	m.jobsProcessedTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrOutcome, outcome)))

	if outcome == JobOutcomeDead && m.queueDeadJobsTotal != nil {
		m.queueDeadJobsTotal.Add(ctx, 1)
	}
}

// RecordClassification records the category a message was classified as.
func (m *Metrics) RecordClassification(ctx context.Context, category string) {
	if m == nil || m.classificationsTotal == nil {
		return // Instrumentation not initialized
	}

	m.classificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrCategory, category)))
}

// RecordReply records an automatic reply attempt.
// Status should be one of: "success", "error", "skipped"
func (m *Metrics) RecordReply(ctx context.Context, status string) {
	if m == nil || m.repliesTotal == nil {
		return // Instrumentation not initialized
	}

	m.repliesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStatus, status)))
}

// RecordLabelApplied records a label application.
func (m *Metrics) RecordLabelApplied(ctx context.Context, label, status string) {
	if m == nil || m.labelsAppliedTotal == nil {
		return // Instrumentation not initialized
	}

	m.labelsAppliedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrLabel, label),
		attribute.String(attrStatus, status),
	))
}

// RecordBreakerStateChange records a circuit breaker transition into state.
func (m *Metrics) RecordBreakerStateChange(ctx context.Context, breaker, state string) {
	if m == nil || m.breakerStateChangesTotal == nil {
		return // Instrumentation not initialized
	}

	m.breakerStateChangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrBreaker, breaker),
		attribute.String(attrState, state),
	))
}

package instrumentation

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a manual reader so tests can
// inspect recorded values.
func newTestMetrics(t *testing.T, detailed bool) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"), detailed)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterTotal sums all data points of the named Int64 counter.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is %T, want Sum[int64]", name, md.Data)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMetrics_NilSafe(t *testing.T) {
	ctx := context.Background()

	var m *Metrics
	m.RecordGoogleAPIOperation(ctx, ServiceGmail, OperationList, StatusSuccess, time.Second)
	m.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	m.RecordPollCycle(ctx, PollResultOK, 1, 1, 1, 1)
	m.RecordJob(ctx, JobOutcomeSucceeded, "a@example.com", time.Second)
	m.RecordClassification(ctx, "INTERESTED")
	m.RecordReply(ctx, StatusSuccess)
	m.RecordLabelApplied(ctx, "PROCESSED", StatusSuccess)
	m.RecordBreakerStateChange(ctx, "gemini", "open")

	zero := &Metrics{}
	zero.RecordJob(ctx, JobOutcomeDead, "", time.Second)
}

func TestMetrics_RecordPollCycle(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordPollCycle(ctx, PollResultOK, 2, 1, 3, 0)
	m.RecordPollCycle(ctx, PollResultFailed, 0, 0, 0, 0)

	if got := counterTotal(t, reader, "poll_cycles_total"); got != 2 {
		t.Errorf("poll_cycles_total = %d, want 2", got)
	}
	if got := counterTotal(t, reader, "poll_messages_total"); got != 6 {
		t.Errorf("poll_messages_total = %d, want 6", got)
	}
}

func TestMetrics_RecordJob(t *testing.T) {
	m, reader := newTestMetrics(t, true)
	ctx := context.Background()

	m.RecordJob(ctx, JobOutcomeSucceeded, "a@example.com", 2*time.Second)
	m.RecordJob(ctx, JobOutcomeRetried, "a@example.com", time.Second)
	m.RecordJob(ctx, JobOutcomeDead, "a@example.com", time.Second)

	if got := counterTotal(t, reader, "jobs_processed_total"); got != 3 {
		t.Errorf("jobs_processed_total = %d, want 3", got)
	}
	if got := counterTotal(t, reader, "queue_dead_jobs_total"); got != 1 {
		t.Errorf("queue_dead_jobs_total = %d, want 1", got)
	}
}

func TestMetrics_WorkerCounters(t *testing.T) {
	m, reader := newTestMetrics(t, false)
	ctx := context.Background()

	m.RecordClassification(ctx, "INTERESTED")
	m.RecordClassification(ctx, "NULL")
	m.RecordReply(ctx, StatusSuccess)
	m.RecordLabelApplied(ctx, "INTERESTED", StatusSuccess)
	m.RecordLabelApplied(ctx, "PROCESSED", StatusError)
	m.RecordGoogleAPIOperation(ctx, ServiceGenerativeLanguage, OperationGenerate, StatusSuccess, time.Second)
	m.RecordBreakerStateChange(ctx, "gemini", "open")

	tests := []struct {
		name string
		want int64
	}{
		{"classifications_total", 2},
		{"replies_total", 1},
		{"labels_applied_total", 2},
		{"google_api_operations_total", 1},
		{"circuit_breaker_state_changes_total", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterTotal(t, reader, tt.name); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestExtractSenderDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane@Example.com", "example.com"},
		{"invalid", "unknown"},
		{"", "unknown"},
		{"user@", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := ExtractSenderDomain(tt.email); got != tt.want {
				t.Errorf("ExtractSenderDomain(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

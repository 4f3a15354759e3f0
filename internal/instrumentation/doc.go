// Package instrumentation provides OpenTelemetry instrumentation for
// inboxresponder.
//
// # Metrics
//
// Poller:
//   - poll_cycles_total: poll cycles by result (ok, failed, skipped)
//   - poll_messages_total: listed messages by outcome (enqueued, duplicate, skipped, failed)
//
// Worker:
//   - jobs_processed_total: job deliveries by outcome (succeeded, invalid, retried, dead)
//   - job_duration_seconds: processing time per delivery
//   - classifications_total: classifications by category
//   - replies_total: automatic replies by status
//   - labels_applied_total: label applications by label and status
//   - queue_dead_jobs_total: jobs moved to the dead state
//
// Google APIs and dependencies:
//   - google_api_operations_total / google_api_operation_duration_seconds:
//     Gmail and Generative Language calls by service, operation, status
//   - oauth_token_refresh_total: token refreshes by result
//   - circuit_breaker_state_changes_total: breaker transitions
//
// # Tracing
//
// Spans are created for poll cycles (poller.cycle), job deliveries
// (worker.job) and Google API calls (google.<service>.<operation>).
//
// # Configuration
//
// Config is filled from the telemetry section of the application
// configuration. The conventional variables are honored there as well:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: prometheus, otlp, stdout (default: prometheus)
//   - TRACING_EXPORTER: otlp, stdout, none (default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: inboxresponder)
//   - AUDIT_LOGGING_ENABLED / AUDIT_LOGGING_INCLUDE_PII: per-job audit log
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	provider.Metrics().RecordJob(ctx, instrumentation.JobOutcomeSucceeded, sender, time.Since(start))
package instrumentation

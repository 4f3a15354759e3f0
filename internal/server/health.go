package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/teemow/inboxresponder/internal/queue"
)

// Health status constants for health check responses.
const (
	healthStatusOK           = "ok"
	healthStatusNotReady     = "not ready"
	healthStatusShuttingDown = "shutting down"
	healthStatusPending      = "pending"
	healthStatusStale        = "stale"
	healthStatusStopped      = "stopped"
)

// statsTimeout bounds the queue stats lookup of the detailed endpoint.
const statsTimeout = 2 * time.Second

// PollerStatus is implemented by *poller.Poller.
type PollerStatus interface {
	LastCycle() time.Time
}

// WorkerStatus is implemented by *worker.Worker.
type WorkerStatus interface {
	Running() bool
	LastJob() time.Time
}

// QueueStats is implemented by every queue backend.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// HealthConfig wires the pipeline components into the health checks. Any
// component may be nil, in which case its check is omitted.
type HealthConfig struct {
	Poller PollerStatus
	Worker WorkerStatus
	Queue  QueueStats

	// StaleAfter is how old the last successful poll cycle may be before
	// the service reports not ready. Zero disables the check.
	StaleAfter time.Duration
}

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	ready        atomic.Bool
	shuttingDown atomic.Bool
	cfg          HealthConfig
	startTime    time.Time
	now          func() time.Time
}

// NewHealthChecker creates a new HealthChecker.
func NewHealthChecker(cfg HealthConfig) *HealthChecker {
	h := &HealthChecker{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the service.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the service is marked ready.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// SetShuttingDown marks the service as draining; readiness fails from then on.
func (h *HealthChecker) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// DetailedHealthResponse provides comprehensive health information.
type DetailedHealthResponse struct {
	Status        string            `json:"status"`
	Uptime        string            `json:"uptime"`
	Checks        map[string]string `json:"checks,omitempty"`
	LastPollCycle *time.Time        `json:"last_poll_cycle,omitempty"`
	LastJob       *time.Time        `json:"last_job,omitempty"`
	Queue         *queue.Stats      `json:"queue,omitempty"`
	QueueError    string            `json:"queue_error,omitempty"`
}

// checks evaluates every readiness condition.
func (h *HealthChecker) checks() (map[string]string, bool) {
	checks := make(map[string]string)
	ok := true

	if h.ready.Load() {
		checks["ready"] = healthStatusOK
	} else {
		checks["ready"] = healthStatusNotReady
		ok = false
	}

	if h.shuttingDown.Load() {
		checks["shutdown"] = healthStatusShuttingDown
		ok = false
	} else {
		checks["shutdown"] = healthStatusOK
	}

	if h.cfg.Poller != nil {
		last := h.cfg.Poller.LastCycle()
		switch {
		case last.IsZero():
			checks["poller"] = healthStatusPending
			ok = false
		case h.cfg.StaleAfter > 0 && h.now().Sub(last) > h.cfg.StaleAfter:
			checks["poller"] = healthStatusStale
			ok = false
		default:
			checks["poller"] = healthStatusOK
		}
	}

	if h.cfg.Worker != nil {
		if h.cfg.Worker.Running() {
			checks["worker"] = healthStatusOK
		} else {
			checks["worker"] = healthStatusStopped
			ok = false
		}
	}

	return checks, ok
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// It only reports that the process is serving requests.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint. The
// service is ready once the poller has completed a cycle recently and the
// worker loop is running.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		checks, ok := h.checks()
		response := HealthResponse{Checks: checks}
		if ok {
			response.Status = healthStatusOK
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = healthStatusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// DetailedHealthHandler returns an HTTP handler for the /healthz/detailed
// endpoint, adding pipeline timestamps and queue counts.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		checks, ok := h.checks()
		response := DetailedHealthResponse{
			Status: healthStatusOK,
			Uptime: h.now().Sub(h.startTime).Truncate(time.Second).String(),
			Checks: checks,
		}
		if h.cfg.Poller != nil {
			response.LastPollCycle = timePtr(h.cfg.Poller.LastCycle())
		}
		if h.cfg.Worker != nil {
			response.LastJob = timePtr(h.cfg.Worker.LastJob())
		}
		if h.cfg.Queue != nil {
			ctx, cancel := context.WithTimeout(r.Context(), statsTimeout)
			stats, err := h.cfg.Queue.Stats(ctx)
			cancel()
			if err != nil {
				response.QueueError = err.Error()
			} else {
				response.Queue = &stats
			}
		}

		switch {
		case h.shuttingDown.Load():
			response.Status = healthStatusShuttingDown
			w.WriteHeader(http.StatusServiceUnavailable)
		case !ok:
			response.Status = healthStatusNotReady
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

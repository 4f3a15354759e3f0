package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	generativelanguage "google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/triage"
)

const (
	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gemini-2.0-flash"

	// DefaultTimeout bounds a single generate call.
	DefaultTimeout = 30 * time.Second

	breakerName = "generativelanguage"
)

var (
	// ErrUnavailable is returned while the circuit breaker rejects calls.
	ErrUnavailable = errors.New("generative engine unavailable")

	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty model response")
)

// Config configures the engine.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration

	// Breaker settings. Zero values use the defaults below.
	MaxFailures  uint32        // consecutive failures that open the breaker; default 5
	OpenTimeout  time.Duration // time spent open before probing; default 30s
	HalfOpenMax  uint32        // probes allowed while half-open; default 1
	CountsWindow time.Duration // closed-state counter reset interval; default 60s
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMax == 0 {
		c.HalfOpenMax = 1
	}
	if c.CountsWindow <= 0 {
		c.CountsWindow = 60 * time.Second
	}
	return c
}

// Engine implements worker.Classifier and worker.Responder.
type Engine struct {
	models  *generativelanguage.ModelsService
	model   string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// New creates an Engine. Extra client options are appended after the API
// key, so tests can point the engine at a fake endpoint.
func New(ctx context.Context, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Engine, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "ai")

	clientOpts := make([]option.ClientOption, 0, len(opts)+1)
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := generativelanguage.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create generative language service: %w", err)
	}

	e := &Engine{
		models:  svc.Models,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: metrics,
	}
	e.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.HalfOpenMax,
		Interval:    cfg.CountsWindow,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// Shutdown is not an engine failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
			metrics.RecordBreakerStateChange(context.Background(), name, to.String())
		},
	})
	return e, nil
}

// Model returns the model name in use.
func (e *Engine) Model() string {
	return e.model
}

// Classify asks the model for a category. An answer naming no known
// category returns triage.Null with triage.ErrUnparseable.
func (e *Engine) Classify(ctx context.Context, text string) (triage.Category, error) {
	if strings.TrimSpace(text) == "" {
		return triage.Null, nil
	}

	answer, err := e.generate(ctx, instrumentation.OperationClassify, classifyPrompt(text))
	if err != nil {
		return triage.Null, err
	}

	category, err := triage.ParseCategory(answer)
	if err != nil {
		e.logger.Debug("unparseable classification", slog.Int("answer_length", len(answer)))
		return triage.Null, fmt.Errorf("classifier answer %q: %w", truncate(answer, 64), err)
	}
	return category, nil
}

// GenerateReply writes the reply body for category.
func (e *Engine) GenerateReply(ctx context.Context, category triage.Category, text, sender string) (string, error) {
	if !category.NeedsReply() || strings.TrimSpace(text) == "" {
		return "", nil
	}
	return e.generate(ctx, instrumentation.OperationGenerate, replyPrompt(category, text, sender))
}

func (e *Engine) generate(ctx context.Context, operation, prompt string) (string, error) {
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGenerativeLanguage, operation,
		attribute.String("ai.model", e.model))
	defer span.End()

	start := time.Now()
	out, err := e.cb.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.call(callCtx, prompt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	e.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGenerativeLanguage, operation, status, time.Since(start))

	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (e *Engine) call(ctx context.Context, prompt string) (string, error) {
	resp, err := e.models.GenerateContent("models/"+e.model, &generativelanguage.GenerateContentRequest{
		Contents: []*generativelanguage.Content{{
			Role:  "user",
			Parts: []*generativelanguage.Part{{Text: prompt}},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *generativelanguage.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package gmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/inboxresponder/internal/instrumentation"
	"github.com/teemow/inboxresponder/internal/logging"
	"github.com/teemow/inboxresponder/internal/message"
)

const (
	// DefaultRequestsPerSecond stays well below the per-user Gmail quota.
	DefaultRequestsPerSecond = 5
	defaultUser              = "me"
	maxPageSize              = 500
)

// Config configures the client.
type Config struct {
	// RequestsPerSecond limits calls made by this client. Zero uses
	// DefaultRequestsPerSecond; a negative value disables the limit.
	RequestsPerSecond float64
	// Burst is the limiter burst size. Values below 1 use 1.
	Burst int
	// User is the mailbox owner. Empty means the authenticated user.
	User string
}

// Client wraps the Gmail Users service. All calls honor the context and the
// client-side rate limit.
type Client struct {
	svc     *gmail.UsersService
	user    string
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *instrumentation.Metrics
}

// NewClient creates a Gmail client. Pass option.WithHTTPClient with an
// authorized client in production.
func NewClient(ctx context.Context, cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	user := cfg.User
	if user == "" {
		user = defaultUser
	}

	var limiter *rate.Limiter
	switch {
	case cfg.RequestsPerSecond < 0:
		limiter = rate.NewLimiter(rate.Inf, 0)
	default:
		rps := cfg.RequestsPerSecond
		if rps == 0 {
			rps = DefaultRequestsPerSecond
		}
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Client{
		svc:     svc.Users,
		user:    user,
		limiter: limiter,
		logger:  logging.WithComponent(logger, "gmail"),
		metrics: metrics,
	}, nil
}

// call waits for the limiter, then runs fn inside a span and records the
// outcome.
func (c *Client) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceGmail, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)

	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	elapsed := time.Since(start)
	c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceGmail, operation, status, elapsed)
	if err != nil {
		logging.WithOperation(c.logger, operation).Debug("gmail call failed",
			slog.Duration("duration", elapsed), logging.Err(err))
	}
	return err
}

// ListMessages returns the IDs of up to pageSize messages matching query,
// newest first.
func (c *Client) ListMessages(ctx context.Context, query string, pageSize int) ([]string, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		return nil, fmt.Errorf("page size %d out of range 1..%d", pageSize, maxPageSize)
	}

	var ids []string
	err := c.call(ctx, instrumentation.OperationList, func(ctx context.Context) error {
		res, err := c.svc.Messages.List(c.user).Q(query).MaxResults(int64(pageSize)).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		ids = make([]string, 0, len(res.Messages))
		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}
		return nil
	})
	return ids, err
}

// GetMessage fetches a full message and converts it to the domain model.
func (c *Client) GetMessage(ctx context.Context, id string) (*message.Message, error) {
	var msg *gmail.Message
	err := c.call(ctx, instrumentation.OperationGet, func(ctx context.Context) error {
		var err error
		msg, err = c.svc.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to get message %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return convertMessage(msg), nil
}

// apiStatus returns the HTTP status of a Google API error, or 0.
func apiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// IsNotFound reports whether err is a Google API 404.
func IsNotFound(err error) bool {
	return apiStatus(err) == http.StatusNotFound
}

package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Defaults applied when Options or Config leave a value unset.
const (
	DefaultDelay          = 10 * time.Second
	DefaultMaxAttempts    = 2
	DefaultInitialBackoff = 5 * time.Second
	DefaultMaxBackoff     = 5 * time.Minute
	DefaultPollInterval   = 250 * time.Millisecond
)

var (
	// ErrNotFound is returned when a job ID is unknown.
	ErrNotFound = errors.New("job not found")

	// ErrEmpty is returned by TryDequeue when no job is ready.
	ErrEmpty = errors.New("no job ready")

	// ErrInvalidState is returned when a transition is not allowed from the
	// job's current state.
	ErrInvalidState = errors.New("invalid job state for operation")
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateDead      State = "dead"
)

// Job is one unit of work: a message captured by the poller.
type Job struct {
	ID           string
	MessageID    string
	ThreadID     string
	Sender       string
	Subject      string
	RFCMessageID string
	Body         string

	State       State
	Attempt     int
	MaxAttempts int
	LastError   string
	ReadyAt     time.Time
	EnqueuedAt  time.Time
	UpdatedAt   time.Time
}

// FinalAttempt reports whether a failure of the current delivery makes the
// job dead.
func (j *Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

// Options controls how a job is enqueued.
type Options struct {
	// Delay before the job becomes ready. Zero uses DefaultDelay; a negative
	// value makes the job ready immediately.
	Delay time.Duration

	// MaxAttempts bounds deliveries. Values below 1 use DefaultMaxAttempts.
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Delay == 0 {
		o.Delay = DefaultDelay
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	return o
}

// Handle identifies an enqueued job.
type Handle struct {
	ID string
	// Duplicate is true when a job for the message already existed.
	Duplicate bool
}

// Stats holds job counts per state.
type Stats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Dead      int `json:"dead"`
}

// Queue is a durable at-least-once job queue.
type Queue interface {
	// Enqueue stores a job for later delivery and returns immediately.
	Enqueue(ctx context.Context, job Job, opts Options) (Handle, error)

	// Dequeue blocks until a job is ready, marks it running and increments
	// its attempt counter.
	Dequeue(ctx context.Context) (*Job, error)

	// TryDequeue is Dequeue without blocking; it returns ErrEmpty when no
	// job is ready.
	TryDequeue(ctx context.Context) (*Job, error)

	// Complete marks a running job as succeeded.
	Complete(ctx context.Context, id string) error

	// Fail records a failed delivery. The job is requeued with a backoff
	// delay while attempts remain, otherwise it becomes dead. The returned
	// state is the job's new state.
	Fail(ctx context.Context, id string, cause error) (State, error)

	// Get returns a job by ID.
	Get(ctx context.Context, id string) (*Job, error)

	// Dead lists dead jobs, most recently failed first.
	Dead(ctx context.Context, limit int) ([]Job, error)

	// Retry moves a dead job back to queued with its attempt counter reset.
	Retry(ctx context.Context, id string) error

	// Recover moves jobs left running by a previous process back to queued
	// and returns how many were moved.
	Recover(ctx context.Context) (int, error)

	// Stats returns job counts per state.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// BackoffFunc returns the delay before the next delivery of a job whose
// delivery number attempt just failed.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff returns a jittered exponential BackoffFunc starting at
// initial and capped at maxInterval.
func ExponentialBackoff(initial, maxInterval time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		b := &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: backoff.DefaultRandomizationFactor,
			Multiplier:          backoff.DefaultMultiplier,
			MaxInterval:         maxInterval,
		}
		b.Reset()

		d := b.NextBackOff()
		for i := 1; i < attempt; i++ {
			d = b.NextBackOff()
		}
		if d > maxInterval {
			d = maxInterval
		}
		return d
	}
}

// Config holds backend-independent queue settings.
type Config struct {
	// Backoff computes the retry delay. Nil uses ExponentialBackoff with
	// DefaultInitialBackoff and DefaultMaxBackoff.
	Backoff BackoffFunc

	// PollInterval is how often a blocked Dequeue checks for ready jobs.
	PollInterval time.Duration

	// Now returns the current time. Nil uses time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Backoff == nil {
		c.Backoff = ExponentialBackoff(DefaultInitialBackoff, DefaultMaxBackoff)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// waitForJob calls try until it returns a job or an error other than
// ErrEmpty. It wakes on every tick of interval and whenever notify fires.
func waitForJob(ctx context.Context, interval time.Duration, notify <-chan struct{}, try func(context.Context) (*Job, error)) (*Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := try(ctx)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, ErrEmpty) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-notify:
		}
	}
}

// signal performs a non-blocking send on a buffered wakeup channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

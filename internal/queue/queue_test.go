package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fixedBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

type queueFactory func(t *testing.T, cfg Config) Queue

func testJob(messageID string) Job {
	return Job{
		MessageID:    messageID,
		ThreadID:     "thread-" + messageID,
		Sender:       "alice@example.com",
		Subject:      "Hello",
		RFCMessageID: "<" + messageID + "@mail.example.com>",
		Body:         "I am interested in your product",
	}
}

// runQueueSuite exercises the behavior every backend must share.
func runQueueSuite(t *testing.T, open queueFactory) {
	ctx := context.Background()

	newQueue := func(t *testing.T) (Queue, *fakeClock) {
		clock := newFakeClock()
		q := open(t, Config{
			Backoff:      fixedBackoff(5 * time.Second),
			PollInterval: 10 * time.Millisecond,
			Now:          clock.Now,
		})
		return q, clock
	}

	t.Run("delay holds job back", func(t *testing.T) {
		q, clock := newQueue(t)

		h, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: 10 * time.Second, MaxAttempts: 2})
		require.NoError(t, err)
		assert.False(t, h.Duplicate)
		assert.NotEmpty(t, h.ID)

		_, err = q.TryDequeue(ctx)
		assert.ErrorIs(t, err, ErrEmpty)

		clock.Advance(9 * time.Second)
		_, err = q.TryDequeue(ctx)
		assert.ErrorIs(t, err, ErrEmpty)

		clock.Advance(time.Second)
		job, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, h.ID, job.ID)
		assert.Equal(t, StateRunning, job.State)
		assert.Equal(t, 1, job.Attempt)
		assert.Equal(t, 2, job.MaxAttempts)
	})

	t.Run("message id is required", func(t *testing.T) {
		q, _ := newQueue(t)

		_, err := q.Enqueue(ctx, testJob(""), Options{Delay: -1})
		require.EqualError(t, err, "message ID is required")

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Queued)
	})

	t.Run("payload round trips", func(t *testing.T) {
		q, _ := newQueue(t)

		want := testJob("m1")
		want.Body = "Héllo\nwörld"
		_, err := q.Enqueue(ctx, want, Options{Delay: -1})
		require.NoError(t, err)

		got, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.MessageID, got.MessageID)
		assert.Equal(t, want.ThreadID, got.ThreadID)
		assert.Equal(t, want.Sender, got.Sender)
		assert.Equal(t, want.Subject, got.Subject)
		assert.Equal(t, want.RFCMessageID, got.RFCMessageID)
		assert.Equal(t, want.Body, got.Body)
	})

	t.Run("default options", func(t *testing.T) {
		q, clock := newQueue(t)

		_, err := q.Enqueue(ctx, testJob("m1"), Options{})
		require.NoError(t, err)

		clock.Advance(DefaultDelay - time.Millisecond)
		_, err = q.TryDequeue(ctx)
		assert.ErrorIs(t, err, ErrEmpty)

		clock.Advance(time.Millisecond)
		job, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxAttempts, job.MaxAttempts)
	})

	t.Run("duplicate message returns existing job", func(t *testing.T) {
		q, _ := newQueue(t)

		first, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)
		second, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)

		assert.True(t, second.Duplicate)
		assert.Equal(t, first.ID, second.ID)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Queued)
	})

	t.Run("two failures make job dead", func(t *testing.T) {
		q, clock := newQueue(t)

		h, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1, MaxAttempts: 2})
		require.NoError(t, err)

		job, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.False(t, job.FinalAttempt())
		state, err := q.Fail(ctx, job.ID, errors.New("gmail unavailable"))
		require.NoError(t, err)
		assert.Equal(t, StateQueued, state)

		// Backoff delays the second delivery.
		_, err = q.TryDequeue(ctx)
		assert.ErrorIs(t, err, ErrEmpty)
		clock.Advance(5 * time.Second)

		job, err = q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, job.Attempt)
		assert.True(t, job.FinalAttempt())
		state, err = q.Fail(ctx, job.ID, errors.New("gmail unavailable again"))
		require.NoError(t, err)
		assert.Equal(t, StateDead, state)

		// No third delivery.
		clock.Advance(time.Hour)
		_, err = q.TryDequeue(ctx)
		assert.ErrorIs(t, err, ErrEmpty)

		dead, err := q.Dead(ctx, 10)
		require.NoError(t, err)
		require.Len(t, dead, 1)
		assert.Equal(t, h.ID, dead[0].ID)
		assert.Equal(t, "gmail unavailable again", dead[0].LastError)
		assert.Equal(t, 2, dead[0].Attempt)

		// A dead message is still known, so the poller cannot re-enqueue it.
		dup, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)
		assert.True(t, dup.Duplicate)
	})

	t.Run("complete", func(t *testing.T) {
		q, _ := newQueue(t)

		_, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)
		job, err := q.TryDequeue(ctx)
		require.NoError(t, err)

		require.NoError(t, q.Complete(ctx, job.ID))
		got, err := q.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StateSucceeded, got.State)

		assert.ErrorIs(t, q.Complete(ctx, job.ID), ErrInvalidState)
		assert.ErrorIs(t, q.Complete(ctx, "missing"), ErrNotFound)

		_, err = q.Fail(ctx, job.ID, errors.New("late"))
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("retry requeues dead job", func(t *testing.T) {
		q, _ := newQueue(t)

		_, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1, MaxAttempts: 1})
		require.NoError(t, err)
		job, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		state, err := q.Fail(ctx, job.ID, errors.New("boom"))
		require.NoError(t, err)
		require.Equal(t, StateDead, state)

		require.NoError(t, q.Retry(ctx, job.ID))
		again, err := q.TryDequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)
		assert.Equal(t, 1, again.Attempt)

		assert.ErrorIs(t, q.Retry(ctx, job.ID), ErrInvalidState)
		assert.ErrorIs(t, q.Retry(ctx, "missing"), ErrNotFound)
	})

	t.Run("recover returns running jobs", func(t *testing.T) {
		q, _ := newQueue(t)

		_, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)
		_, err = q.Enqueue(ctx, testJob("m2"), Options{Delay: -1})
		require.NoError(t, err)
		_, err = q.TryDequeue(ctx)
		require.NoError(t, err)

		n, err := q.Recover(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Queued: 2}, stats)

		// The interrupted delivery still counts.
		var attempts []int
		for range 2 {
			job, err := q.TryDequeue(ctx)
			require.NoError(t, err)
			attempts = append(attempts, job.Attempt)
		}
		assert.ElementsMatch(t, []int{1, 2}, attempts)
	})

	t.Run("dead lists newest first", func(t *testing.T) {
		q, clock := newQueue(t)

		for _, id := range []string{"m1", "m2", "m3"} {
			_, err := q.Enqueue(ctx, testJob(id), Options{Delay: -1, MaxAttempts: 1})
			require.NoError(t, err)
		}
		for range 3 {
			job, err := q.TryDequeue(ctx)
			require.NoError(t, err)
			_, err = q.Fail(ctx, job.ID, errors.New("boom"))
			require.NoError(t, err)
			clock.Advance(time.Second)
		}

		dead, err := q.Dead(ctx, 2)
		require.NoError(t, err)
		require.Len(t, dead, 2)
		assert.True(t, dead[0].UpdatedAt.After(dead[1].UpdatedAt))

		all, err := q.Dead(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("dequeue blocks until enqueue", func(t *testing.T) {
		q, _ := newQueue(t)

		got := make(chan *Job, 1)
		go func() {
			job, err := q.Dequeue(ctx)
			if err == nil {
				got <- job
			}
		}()

		time.Sleep(30 * time.Millisecond)
		_, err := q.Enqueue(ctx, testJob("m1"), Options{Delay: -1})
		require.NoError(t, err)

		select {
		case job := <-got:
			assert.Equal(t, "m1", job.MessageID)
		case <-time.After(2 * time.Second):
			t.Fatal("Dequeue did not return after Enqueue")
		}
	})

	t.Run("dequeue honors cancellation", func(t *testing.T) {
		q, _ := newQueue(t)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := q.Dequeue(cctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(5*time.Second, 5*time.Minute)

	first := b(1)
	assert.GreaterOrEqual(t, first, 2500*time.Millisecond)
	assert.LessOrEqual(t, first, 7500*time.Millisecond)

	for attempt := 1; attempt < 30; attempt++ {
		assert.LessOrEqual(t, b(attempt), 5*time.Minute)
	}
}

func TestOptionsWithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{"zero", Options{}, Options{Delay: DefaultDelay, MaxAttempts: DefaultMaxAttempts}},
		{"negative delay", Options{Delay: -1, MaxAttempts: 3}, Options{Delay: 0, MaxAttempts: 3}},
		{"explicit", Options{Delay: time.Minute, MaxAttempts: 5}, Options{Delay: time.Minute, MaxAttempts: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}

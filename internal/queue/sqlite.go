package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteQueue implements Queue on a local SQLite database.
type SQLiteQueue struct {
	db     *sqlx.DB
	cfg    Config
	notify chan struct{}
}

var _ Queue = (*SQLiteQueue)(nil)

// jobRow is the database representation of a Job. Timestamps are stored as
// Unix milliseconds so they compare correctly in SQL.
type jobRow struct {
	ID           string `db:"id"`
	MessageID    string `db:"message_id"`
	ThreadID     string `db:"thread_id"`
	Sender       string `db:"sender"`
	Subject      string `db:"subject"`
	RFCMessageID string `db:"rfc_message_id"`
	Body         string `db:"body"`
	State        string `db:"state"`
	Attempt      int    `db:"attempt"`
	MaxAttempts  int    `db:"max_attempts"`
	LastError    string `db:"last_error"`
	ReadyAt      int64  `db:"ready_at"`
	EnqueuedAt   int64  `db:"enqueued_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r jobRow) job() Job {
	return Job{
		ID:           r.ID,
		MessageID:    r.MessageID,
		ThreadID:     r.ThreadID,
		Sender:       r.Sender,
		Subject:      r.Subject,
		RFCMessageID: r.RFCMessageID,
		Body:         r.Body,
		State:        State(r.State),
		Attempt:      r.Attempt,
		MaxAttempts:  r.MaxAttempts,
		LastError:    r.LastError,
		ReadyAt:      time.UnixMilli(r.ReadyAt).UTC(),
		EnqueuedAt:   time.UnixMilli(r.EnqueuedAt).UTC(),
		UpdatedAt:    time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

// OpenSQLite opens (or creates) a queue database at path, enables WAL mode,
// and runs any pending schema migrations. Use ":memory:" for a throwaway
// queue.
func OpenSQLite(path string, cfg Config) (*SQLiteQueue, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection serializes every transition and keeps ":memory:"
	// databases alive for the queue's lifetime.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	q := &SQLiteQueue{
		db:     db,
		cfg:    cfg.withDefaults(),
		notify: make(chan struct{}, 1),
	}
	if err := q.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return q, nil
}

// Close closes the underlying database connection.
func (q *SQLiteQueue) Close() error {
	return q.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (q *SQLiteQueue) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := q.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = q.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := q.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func (q *SQLiteQueue) nowMillis() int64 {
	return q.cfg.Now().UnixMilli()
}

// Enqueue inserts a job unless one already exists for the same message.
func (q *SQLiteQueue) Enqueue(ctx context.Context, job Job, opts Options) (Handle, error) {
	if job.MessageID == "" {
		return Handle{}, errors.New("message ID is required")
	}
	opts = opts.withDefaults()
	now := q.nowMillis()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return Handle{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.GetContext(ctx, &existing, "SELECT id FROM jobs WHERE message_id = ?", job.MessageID)
	switch {
	case err == nil:
		return Handle{ID: existing, Duplicate: true}, nil
	case !errors.Is(err, sql.ErrNoRows):
		return Handle{}, fmt.Errorf("checking existing job for message %s: %w", job.MessageID, err)
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs (
			id, message_id, thread_id, sender, subject, rfc_message_id, body,
			state, attempt, max_attempts, last_error,
			ready_at, enqueued_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', ?, ?, ?)`,
		id, job.MessageID, job.ThreadID, job.Sender, job.Subject, job.RFCMessageID, job.Body,
		string(StateQueued), opts.MaxAttempts,
		now+opts.Delay.Milliseconds(), now, now,
	)
	if err != nil {
		return Handle{}, fmt.Errorf("inserting job for message %s: %w", job.MessageID, err)
	}
	if err := tx.Commit(); err != nil {
		return Handle{}, fmt.Errorf("committing job for message %s: %w", job.MessageID, err)
	}

	signal(q.notify)
	return Handle{ID: id}, nil
}

// Dequeue blocks until a job is ready.
func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Job, error) {
	return waitForJob(ctx, q.cfg.PollInterval, q.notify, q.TryDequeue)
}

// TryDequeue claims the oldest ready job, if any.
func (q *SQLiteQueue) TryDequeue(ctx context.Context) (*Job, error) {
	now := q.nowMillis()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT * FROM jobs
		WHERE state = ? AND ready_at <= ?
		ORDER BY ready_at, enqueued_at
		LIMIT 1`, string(StateQueued), now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("selecting ready job: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempt = attempt + 1, updated_at = ?
		WHERE id = ?`, string(StateRunning), now, row.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", row.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim of job %s: %w", row.ID, err)
	}

	row.State = string(StateRunning)
	row.Attempt++
	row.UpdatedAt = now
	job := row.job()
	return &job, nil
}

// Complete marks a running job as succeeded.
func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(StateSucceeded), q.nowMillis(), id, string(StateRunning))
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return q.checkTransition(ctx, res, id)
}

// Fail requeues the job with backoff, or moves it to dead once its attempts
// are exhausted.
func (q *SQLiteQueue) Fail(ctx context.Context, id string, cause error) (State, error) {
	now := q.nowMillis()

	tx, err := q.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	err = tx.GetContext(ctx, &row, "SELECT * FROM jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("loading job %s: %w", id, err)
	}
	if State(row.State) != StateRunning {
		return "", fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, row.State)
	}

	next := StateDead
	readyAt := row.ReadyAt
	if row.Attempt < row.MaxAttempts {
		next = StateQueued
		readyAt = now + q.cfg.Backoff(row.Attempt).Milliseconds()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET state = ?, ready_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`, string(next), readyAt, errorText(cause), now, id)
	if err != nil {
		return "", fmt.Errorf("failing job %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("committing failure of job %s: %w", id, err)
	}
	return next, nil
}

// Get returns a job by ID.
func (q *SQLiteQueue) Get(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := q.db.GetContext(ctx, &row, "SELECT * FROM jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	job := row.job()
	return &job, nil
}

// Dead lists dead jobs, most recently failed first. A limit of zero or less
// returns all of them.
func (q *SQLiteQueue) Dead(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []jobRow
	err := q.db.SelectContext(ctx, &rows, `
		SELECT * FROM jobs WHERE state = ?
		ORDER BY updated_at DESC, id
		LIMIT ?`, string(StateDead), limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs, nil
}

// Retry moves a dead job back to queued, ready now, with a fresh attempt
// budget.
func (q *SQLiteQueue) Retry(ctx context.Context, id string) error {
	now := q.nowMillis()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempt = 0, ready_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(StateQueued), now, now, id, string(StateDead))
	if err != nil {
		return fmt.Errorf("retrying job %s: %w", id, err)
	}
	if err := q.checkTransition(ctx, res, id); err != nil {
		return err
	}
	signal(q.notify)
	return nil
}

// Recover moves running jobs back to queued.
func (q *SQLiteQueue) Recover(ctx context.Context) (int, error) {
	now := q.nowMillis()
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET state = ?, ready_at = ?, updated_at = ?
		WHERE state = ?`,
		string(StateQueued), now, now, string(StateRunning))
	if err != nil {
		return 0, fmt.Errorf("recovering running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting recovered jobs: %w", err)
	}
	if n > 0 {
		signal(q.notify)
	}
	return int(n), nil
}

// Stats returns job counts per state.
func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		State string `db:"state"`
		Count int    `db:"n"`
	}
	err := q.db.SelectContext(ctx, &rows, "SELECT state, COUNT(*) AS n FROM jobs GROUP BY state")
	if err != nil {
		return Stats{}, fmt.Errorf("counting jobs: %w", err)
	}

	var s Stats
	for _, r := range rows {
		switch State(r.State) {
		case StateQueued:
			s.Queued = r.Count
		case StateRunning:
			s.Running = r.Count
		case StateSucceeded:
			s.Succeeded = r.Count
		case StateDead:
			s.Dead = r.Count
		}
	}
	return s, nil
}

// checkTransition turns a zero-row conditional update into ErrNotFound or
// ErrInvalidState.
func (q *SQLiteQueue) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var state string
	err = q.db.GetContext(ctx, &state, "SELECT state FROM jobs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("loading job %s: %w", id, err)
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, state)
}

package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyKeyPrefix prefixes every key the Valkey queue writes.
const DefaultValkeyKeyPrefix = "inboxresponder:queue:"

// ValkeyConfig holds the connection settings for the Valkey backend.
type ValkeyConfig struct {
	// Address is the Valkey server address (e.g., "valkey.namespace.svc:6379").
	Address string

	// Password for Valkey authentication (optional).
	Password string

	// TLSEnabled enables TLS for the connection.
	TLSEnabled bool

	// KeyPrefix is the prefix for all keys (default: "inboxresponder:queue:").
	KeyPrefix string

	// DB is the database number to select (default: 0).
	DB int
}

// ValkeyQueue implements Queue on Valkey. Jobs are stored as JSON in a
// hash and indexed by sorted sets per state; every transition is a Lua
// script so it is atomic on the server.
type ValkeyQueue struct {
	client valkey.Client
	cfg    Config
	keys   []string
	notify chan struct{}
}

var _ Queue = (*ValkeyQueue)(nil)

// Key order shared by every script.
const (
	keyJobs = iota
	keyMessages
	keyQueued
	keyRunning
	keyDead
	keySucceeded
)

// wireJob is the JSON form of a Job stored in Valkey. Timestamps are Unix
// milliseconds so scripts can use them as sorted set scores.
type wireJob struct {
	ID           string `json:"id"`
	MessageID    string `json:"message_id"`
	ThreadID     string `json:"thread_id"`
	Sender       string `json:"sender"`
	Subject      string `json:"subject"`
	RFCMessageID string `json:"rfc_message_id"`
	Body         string `json:"body"`
	State        string `json:"state"`
	Attempt      int    `json:"attempt"`
	MaxAttempts  int    `json:"max_attempts"`
	LastError    string `json:"last_error"`
	ReadyAt      int64  `json:"ready_at"`
	EnqueuedAt   int64  `json:"enqueued_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

func (w wireJob) job() Job {
	return Job{
		ID:           w.ID,
		MessageID:    w.MessageID,
		ThreadID:     w.ThreadID,
		Sender:       w.Sender,
		Subject:      w.Subject,
		RFCMessageID: w.RFCMessageID,
		Body:         w.Body,
		State:        State(w.State),
		Attempt:      w.Attempt,
		MaxAttempts:  w.MaxAttempts,
		LastError:    w.LastError,
		ReadyAt:      time.UnixMilli(w.ReadyAt).UTC(),
		EnqueuedAt:   time.UnixMilli(w.EnqueuedAt).UTC(),
		UpdatedAt:    time.UnixMilli(w.UpdatedAt).UTC(),
	}
}

func decodeJob(raw string) (*Job, error) {
	var w wireJob
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	job := w.job()
	return &job, nil
}

var (
	enqueueScript = valkey.NewLuaScript(`
local existing = redis.call('HGET', KEYS[2], ARGV[1])
if existing then
  return {existing, '1'}
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[4], ARGV[2])
return {ARGV[2], '0'}
`)

	dequeueScript = valkey.NewLuaScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
local job = cjson.decode(redis.call('HGET', KEYS[1], id))
job.state = 'running'
job.attempt = job.attempt + 1
job.updated_at = tonumber(ARGV[1])
local raw = cjson.encode(job)
redis.call('HSET', KEYS[1], id, raw)
redis.call('ZREM', KEYS[3], id)
redis.call('ZADD', KEYS[4], ARGV[1], id)
return raw
`)

	completeScript = valkey.NewLuaScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return redis.error_reply('not_found')
end
local job = cjson.decode(raw)
if job.state ~= 'running' then
  return redis.error_reply('invalid_state ' .. job.state)
end
job.state = 'succeeded'
job.updated_at = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(job))
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('ZADD', KEYS[6], ARGV[2], ARGV[1])
return job.state
`)

	failScript = valkey.NewLuaScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return redis.error_reply('not_found')
end
local job = cjson.decode(raw)
if job.state ~= 'running' then
  return redis.error_reply('invalid_state ' .. job.state)
end
job.last_error = ARGV[4]
job.updated_at = tonumber(ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[1])
if job.attempt < job.max_attempts then
  job.state = 'queued'
  job.ready_at = tonumber(ARGV[3])
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
else
  job.state = 'dead'
  redis.call('ZADD', KEYS[5], ARGV[2], ARGV[1])
end
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(job))
return job.state
`)

	retryScript = valkey.NewLuaScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then
  return redis.error_reply('not_found')
end
local job = cjson.decode(raw)
if job.state ~= 'dead' then
  return redis.error_reply('invalid_state ' .. job.state)
end
job.state = 'queued'
job.attempt = 0
job.ready_at = tonumber(ARGV[2])
job.updated_at = tonumber(ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(job))
redis.call('ZREM', KEYS[5], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
return job.state
`)

	recoverScript = valkey.NewLuaScript(`
local ids = redis.call('ZRANGE', KEYS[4], 0, -1)
for _, id in ipairs(ids) do
  local job = cjson.decode(redis.call('HGET', KEYS[1], id))
  job.state = 'queued'
  job.ready_at = tonumber(ARGV[1])
  job.updated_at = tonumber(ARGV[1])
  redis.call('HSET', KEYS[1], id, cjson.encode(job))
  redis.call('ZADD', KEYS[3], ARGV[1], id)
end
redis.call('DEL', KEYS[4])
return #ids
`)

	deadScript = valkey.NewLuaScript(`
local ids = redis.call('ZREVRANGE', KEYS[5], 0, tonumber(ARGV[1]))
if #ids == 0 then
  return {}
end
return redis.call('HMGET', KEYS[1], unpack(ids))
`)

	statsScript = valkey.NewLuaScript(`
return {
  redis.call('ZCARD', KEYS[3]),
  redis.call('ZCARD', KEYS[4]),
  redis.call('ZCARD', KEYS[6]),
  redis.call('ZCARD', KEYS[5]),
}
`)
)

// OpenValkey connects to Valkey and returns a queue using vcfg's key prefix.
func OpenValkey(vcfg ValkeyConfig, cfg Config) (*ValkeyQueue, error) {
	if vcfg.Address == "" {
		return nil, errors.New("valkey address is required")
	}
	opts := valkey.ClientOption{
		InitAddress: []string{vcfg.Address},
		Password:    vcfg.Password,
		SelectDB:    vcfg.DB,
	}
	if vcfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", vcfg.Address, err)
	}
	return newValkeyQueue(client, vcfg.KeyPrefix, cfg), nil
}

func newValkeyQueue(client valkey.Client, prefix string, cfg Config) *ValkeyQueue {
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	return &ValkeyQueue{
		client: client,
		cfg:    cfg.withDefaults(),
		keys: []string{
			keyJobs:      prefix + "jobs",
			keyMessages:  prefix + "messages",
			keyQueued:    prefix + "queued",
			keyRunning:   prefix + "running",
			keyDead:      prefix + "dead",
			keySucceeded: prefix + "succeeded",
		},
		notify: make(chan struct{}, 1),
	}
}

// Close closes the Valkey client.
func (q *ValkeyQueue) Close() error {
	q.client.Close()
	return nil
}

func (q *ValkeyQueue) nowMillis() int64 {
	return q.cfg.Now().UnixMilli()
}

func (q *ValkeyQueue) exec(ctx context.Context, script *valkey.Lua, args ...string) valkey.ValkeyResult {
	return script.Exec(ctx, q.client, q.keys, args)
}

// scriptError maps script error replies onto the package's sentinels.
func scriptError(err error, id string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not_found"):
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case strings.Contains(msg, "invalid_state"):
		state := msg[strings.Index(msg, "invalid_state")+len("invalid_state"):]
		return fmt.Errorf("%w: job %s is %s", ErrInvalidState, id, strings.TrimSpace(state))
	default:
		return err
	}
}

// Enqueue stores a job unless one already exists for the same message.
func (q *ValkeyQueue) Enqueue(ctx context.Context, job Job, opts Options) (Handle, error) {
	if job.MessageID == "" {
		return Handle{}, errors.New("message ID is required")
	}
	opts = opts.withDefaults()
	now := q.nowMillis()

	w := wireJob{
		ID:           uuid.New().String(),
		MessageID:    job.MessageID,
		ThreadID:     job.ThreadID,
		Sender:       job.Sender,
		Subject:      job.Subject,
		RFCMessageID: job.RFCMessageID,
		Body:         job.Body,
		State:        string(StateQueued),
		MaxAttempts:  opts.MaxAttempts,
		ReadyAt:      now + opts.Delay.Milliseconds(),
		EnqueuedAt:   now,
		UpdatedAt:    now,
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return Handle{}, fmt.Errorf("encoding job: %w", err)
	}

	reply, err := q.exec(ctx, enqueueScript,
		w.MessageID, w.ID, string(raw), strconv.FormatInt(w.ReadyAt, 10),
	).AsStrSlice()
	if err != nil {
		return Handle{}, fmt.Errorf("enqueueing message %s: %w", job.MessageID, err)
	}
	if len(reply) != 2 {
		return Handle{}, fmt.Errorf("enqueueing message %s: unexpected reply %v", job.MessageID, reply)
	}

	h := Handle{ID: reply[0], Duplicate: reply[1] == "1"}
	if !h.Duplicate {
		signal(q.notify)
	}
	return h, nil
}

// Dequeue blocks until a job is ready.
func (q *ValkeyQueue) Dequeue(ctx context.Context) (*Job, error) {
	return waitForJob(ctx, q.cfg.PollInterval, q.notify, q.TryDequeue)
}

// TryDequeue claims the oldest ready job, if any.
func (q *ValkeyQueue) TryDequeue(ctx context.Context) (*Job, error) {
	raw, err := q.exec(ctx, dequeueScript, strconv.FormatInt(q.nowMillis(), 10)).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claiming ready job: %w", err)
	}
	return decodeJob(raw)
}

// Complete marks a running job as succeeded.
func (q *ValkeyQueue) Complete(ctx context.Context, id string) error {
	err := q.exec(ctx, completeScript, id, strconv.FormatInt(q.nowMillis(), 10)).Error()
	if err != nil {
		return scriptError(err, id)
	}
	return nil
}

// Fail requeues the job with backoff, or moves it to dead once its attempts
// are exhausted.
func (q *ValkeyQueue) Fail(ctx context.Context, id string, cause error) (State, error) {
	job, err := q.Get(ctx, id)
	if err != nil {
		return "", err
	}
	now := q.nowMillis()
	retryAt := now + q.cfg.Backoff(job.Attempt).Milliseconds()

	state, err := q.exec(ctx, failScript,
		id,
		strconv.FormatInt(now, 10),
		strconv.FormatInt(retryAt, 10),
		errorText(cause),
	).ToString()
	if err != nil {
		return "", scriptError(err, id)
	}
	return State(state), nil
}

// Get returns a job by ID.
func (q *ValkeyQueue) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := q.client.Do(ctx, q.client.B().Hget().Key(q.keys[keyJobs]).Field(id).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return decodeJob(raw)
}

// Dead lists dead jobs, most recently failed first. A limit of zero or less
// returns all of them.
func (q *ValkeyQueue) Dead(ctx context.Context, limit int) ([]Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raws, err := q.exec(ctx, deadScript, strconv.FormatInt(stop, 10)).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("listing dead jobs: %w", err)
	}

	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		job, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Retry moves a dead job back to queued, ready now, with a fresh attempt
// budget.
func (q *ValkeyQueue) Retry(ctx context.Context, id string) error {
	err := q.exec(ctx, retryScript, id, strconv.FormatInt(q.nowMillis(), 10)).Error()
	if err != nil {
		return scriptError(err, id)
	}
	signal(q.notify)
	return nil
}

// Recover moves running jobs back to queued.
func (q *ValkeyQueue) Recover(ctx context.Context) (int, error) {
	n, err := q.exec(ctx, recoverScript, strconv.FormatInt(q.nowMillis(), 10)).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("recovering running jobs: %w", err)
	}
	if n > 0 {
		signal(q.notify)
	}
	return int(n), nil
}

// Stats returns job counts per state.
func (q *ValkeyQueue) Stats(ctx context.Context) (Stats, error) {
	counts, err := q.exec(ctx, statsScript).AsIntSlice()
	if err != nil {
		return Stats{}, fmt.Errorf("counting jobs: %w", err)
	}
	if len(counts) != 4 {
		return Stats{}, fmt.Errorf("counting jobs: unexpected reply %v", counts)
	}
	return Stats{
		Queued:    int(counts[0]),
		Running:   int(counts[1]),
		Succeeded: int(counts[2]),
		Dead:      int(counts[3]),
	}, nil
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediascribe/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	// keyPrefix namespaces every queue key.
	keyPrefix = "mediascribe"
	// FailedJobTTL is how long failed-job archives are kept.
	FailedJobTTL = 24 * time.Hour
	// completedKeep is how many completed jobs each archive retains.
	completedKeep = 100
)

// ErrJobNotFound means no queue holds a job with the given id.
var ErrJobNotFound = errors.New("job not found")

// Counts is a point-in-time census of one queue.
type Counts struct {
	Waiting    int64 `json:"waiting"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Queue manages the per-stage durable queues in Redis. Each stage has a
// waiting zset (scored by priority then arrival), a processing zset (scored
// by job deadline), a delayed zset (scored by ready time), and completed and
// failed archives.
type Queue struct {
	client       *redis.Client
	stageTimeout time.Duration
}

// claimScript atomically promotes due delayed jobs, pops the best waiting
// job and registers it as processing under its deadline.
var claimScript = redis.NewScript(`
local waiting = KEYS[1]
local processing = KEYS[2]
local delayed = KEYS[3]
local jobs = KEYS[4]
local seq = KEYS[5]
local now = tonumber(ARGV[1])
local default_deadline = tonumber(ARGV[2])

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now)
for _, id in ipairs(due) do
  redis.call('ZREM', delayed, id)
  local prio = 2
  local payload = redis.call('HGET', jobs, id)
  if payload then
    local ok, job = pcall(cjson.decode, payload)
    if ok and job.priority then prio = tonumber(job.priority) end
  end
  local n = redis.call('INCR', seq)
  redis.call('ZADD', waiting, prio * 1e12 + n, id)
end

local popped = redis.call('ZPOPMIN', waiting, 1)
if #popped == 0 then return false end
local id = popped[1]

local deadline = default_deadline
local payload = redis.call('HGET', jobs, id)
if payload then
  local ok, job = pcall(cjson.decode, payload)
  if ok and job.deadline_unix then deadline = tonumber(job.deadline_unix) end
end
redis.call('ZADD', processing, deadline, id)
return {id, payload or ''}
`)

// requeueScript moves one processing job back to waiting with an updated
// payload. Returns 0 when another sweeper got there first.
var requeueScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
local n = redis.call('INCR', KEYS[4])
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]) * 1e12 + n, ARGV[1])
return 1
`)

// buryScript moves one processing job to the failed archive.
var buryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
redis.call('PEXPIRE', KEYS[3], ARGV[3])
return 1
`)

// wireJob is the stored payload: Job plus a numeric deadline the Lua side
// can read without time parsing.
type wireJob struct {
	Job
	DeadlineUnix int64 `json:"deadline_unix"`
}

// NewQueue connects to Redis using REDIS_URL.
func NewQueue(ctx context.Context) (*Queue, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("Job queue initialized", "addr", opts.Addr)
	return &Queue{client: client, stageTimeout: config.StageTimeout}, nil
}

// NewQueueWithClient creates a queue with an existing Redis client (for testing).
func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client, stageTimeout: config.StageTimeout}
}

func key(queue, part string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, queue, part)
}

func seqKey() string {
	return keyPrefix + ":seq"
}

// EnqueueOptions tunes a single enqueue.
type EnqueueOptions struct {
	// Delay holds the job in the delayed set before it becomes claimable.
	Delay time.Duration
	// Priority overrides the job's priority when non-zero.
	Priority int
}

// Enqueue adds a job to a stage queue. Missing identity fields are filled in.
func (q *Queue) Enqueue(ctx context.Context, queueName string, job *Job, opts EnqueueOptions) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	now := time.Now()
	if job.ID == "" {
		job.ID = NewJobID()
	}
	job.Type = queueName
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if opts.Priority != 0 {
		job.Priority = opts.Priority
	}
	if job.Priority == 0 {
		job.Priority = 2
	}
	job.ProcessingDeadline = now.Add(q.stageTimeout)

	payload, err := json.Marshal(wireJob{Job: *job, DeadlineUnix: job.ProcessingDeadline.Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if opts.Delay > 0 {
		pipe := q.client.TxPipeline()
		pipe.HSet(ctx, key(queueName, "jobs"), job.ID, payload)
		pipe.ZAdd(ctx, key(queueName, "delayed"), redis.Z{
			Score:  float64(now.Add(opts.Delay).Unix()),
			Member: job.ID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to enqueue delayed job: %w", err)
		}
		slog.Info("Job delayed", "queue", queueName, "job_id", job.ID, "delay", opts.Delay, "attempt", job.Attempt)
		return nil
	}

	seq, err := q.client.Incr(ctx, seqKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to advance queue sequence: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key(queueName, "jobs"), job.ID, payload)
	pipe.ZAdd(ctx, key(queueName, "waiting"), redis.Z{
		Score:  float64(job.Priority)*1e12 + float64(seq),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	slog.Info("Job enqueued", "queue", queueName, "job_id", job.ID,
		"record_id", job.RecordID, "priority", job.Priority)
	return nil
}

// Claim atomically takes the best waiting job and marks it processing.
// Returns nil when the queue is empty.
func (q *Queue) Claim(ctx context.Context, queueName, workerID string) (*Job, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	now := time.Now()
	result, err := claimScript.Run(ctx, q.client,
		[]string{
			key(queueName, "waiting"),
			key(queueName, "processing"),
			key(queueName, "delayed"),
			key(queueName, "jobs"),
			seqKey(),
		},
		now.Unix(), now.Add(q.stageTimeout).Unix(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim from %s: %w", queueName, err)
	}

	reply, ok := result.([]any)
	if !ok || len(reply) < 2 {
		return nil, fmt.Errorf("unexpected claim reply: %v", result)
	}
	jobID, _ := reply[0].(string)
	payload, _ := reply[1].(string)
	if payload == "" {
		// waiting entry without a payload; drop it
		slog.Warn("Claimed job without payload, discarding", "queue", queueName, "job_id", jobID)
		q.client.ZRem(ctx, key(queueName, "processing"), jobID)
		return nil, nil
	}

	var wire wireJob
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	slog.Info("Job claimed", "queue", queueName, "job_id", wire.ID,
		"record_id", wire.RecordID, "worker_id", workerID, "attempt", wire.Attempt)
	return &wire.Job, nil
}

// Complete archives a finished job and trims the archive to the last 100.
func (q *Queue) Complete(ctx context.Context, queueName, jobID string) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}

	payload, err := q.client.HGet(ctx, key(queueName, "jobs"), jobID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, key(queueName, "processing"), jobID)
	pipe.HDel(ctx, key(queueName, "jobs"), jobID)
	if payload != "" {
		pipe.LPush(ctx, key(queueName, "completed"), payload)
		pipe.LTrim(ctx, key(queueName, "completed"), 0, completedKeep-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}

	slog.Info("Job completed", "queue", queueName, "job_id", jobID)
	return nil
}

// Fail retries a job with exponential backoff while the attempt budget
// lasts, then buries it in the failed archive. maxAttempts zero buries
// immediately (poison input); negative uses the configured budget.
func (q *Queue) Fail(ctx context.Context, queueName, jobID, reason string, maxAttempts int) error {
	if q.client == nil {
		return fmt.Errorf("queue is not connected")
	}
	if maxAttempts < 0 {
		maxAttempts = config.MaxAttempts
	}

	payload, err := q.client.HGet(ctx, key(queueName, "jobs"), jobID).Result()
	if err == redis.Nil {
		return fmt.Errorf("fail %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	var wire wireJob
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	wire.FailReason = reason

	if wire.Attempt+1 <= maxAttempts {
		delay := RetryDelay(wire.Attempt)
		wire.Attempt++
		updated, err := json.Marshal(wire)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", jobID, err)
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, key(queueName, "processing"), jobID)
		pipe.HSet(ctx, key(queueName, "jobs"), jobID, updated)
		pipe.ZAdd(ctx, key(queueName, "delayed"), redis.Z{
			Score:  float64(time.Now().Add(delay).Unix()),
			Member: jobID,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to schedule retry for %s: %w", jobID, err)
		}
		slog.Warn("Job scheduled for retry", "queue", queueName, "job_id", jobID,
			"attempt", wire.Attempt, "delay", delay, "reason", reason)
		return nil
	}

	buried, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", jobID, err)
	}
	if _, err := buryScript.Run(ctx, q.client,
		[]string{key(queueName, "processing"), key(queueName, "jobs"), key(queueName, "failed")},
		jobID, buried, FailedJobTTL.Milliseconds(),
	).Result(); err != nil {
		return fmt.Errorf("failed to bury job %s: %w", jobID, err)
	}

	slog.Error("Job failed permanently", "queue", queueName, "job_id", jobID,
		"attempts", wire.Attempt, "reason", reason)
	return nil
}

// Sweep returns processing jobs whose deadline passed more than olderThan
// ago to the waiting set with an incremented attempt. Jobs over the retry
// budget go to the failed archive instead. Returns how many jobs moved.
func (q *Queue) Sweep(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	if q.client == nil {
		return 0, fmt.Errorf("queue is not connected")
	}

	cutoff := time.Now().Add(-olderThan).Unix()
	ids, err := q.client.ZRangeByScore(ctx, key(queueName, "processing"), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to scan processing set: %w", err)
	}

	moved := 0
	for _, jobID := range ids {
		payload, err := q.client.HGet(ctx, key(queueName, "jobs"), jobID).Result()
		if err == redis.Nil {
			q.client.ZRem(ctx, key(queueName, "processing"), jobID)
			continue
		}
		if err != nil {
			return moved, fmt.Errorf("failed to load job %s: %w", jobID, err)
		}

		var wire wireJob
		if err := json.Unmarshal([]byte(payload), &wire); err != nil {
			slog.Error("Discarding undecodable processing job", "queue", queueName, "job_id", jobID, "error", err)
			q.client.ZRem(ctx, key(queueName, "processing"), jobID)
			q.client.HDel(ctx, key(queueName, "jobs"), jobID)
			continue
		}

		wire.Attempt++
		if wire.Attempt > config.MaxAttempts {
			wire.FailReason = "processing deadline exceeded"
			buried, _ := json.Marshal(wire)
			if _, err := buryScript.Run(ctx, q.client,
				[]string{key(queueName, "processing"), key(queueName, "jobs"), key(queueName, "failed")},
				jobID, buried, FailedJobTTL.Milliseconds(),
			).Result(); err != nil {
				return moved, fmt.Errorf("failed to bury swept job %s: %w", jobID, err)
			}
			slog.Error("Swept job exceeded retry budget", "queue", queueName, "job_id", jobID)
			moved++
			continue
		}

		wire.ProcessingDeadline = time.Now().Add(q.stageTimeout)
		wire.DeadlineUnix = wire.ProcessingDeadline.Unix()
		updated, err := json.Marshal(wire)
		if err != nil {
			return moved, fmt.Errorf("failed to marshal job %s: %w", jobID, err)
		}

		res, err := requeueScript.Run(ctx, q.client,
			[]string{key(queueName, "processing"), key(queueName, "jobs"), key(queueName, "waiting"), seqKey()},
			jobID, updated, wire.Priority,
		).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to requeue job %s: %w", jobID, err)
		}
		if n, ok := res.(int64); ok && n == 1 {
			slog.Warn("Requeued stuck job", "queue", queueName, "job_id", jobID, "attempt", wire.Attempt)
			moved++
		}
	}
	return moved, nil
}

// Counts reports the census of one queue.
func (q *Queue) Counts(ctx context.Context, queueName string) (*Counts, error) {
	if q.client == nil {
		return nil, fmt.Errorf("queue is not connected")
	}

	pipe := q.client.Pipeline()
	waiting := pipe.ZCard(ctx, key(queueName, "waiting"))
	processing := pipe.ZCard(ctx, key(queueName, "processing"))
	delayed := pipe.ZCard(ctx, key(queueName, "delayed"))
	completed := pipe.LLen(ctx, key(queueName, "completed"))
	failed := pipe.LLen(ctx, key(queueName, "failed"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to count queue %s: %w", queueName, err)
	}

	return &Counts{
		Waiting:    waiting.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
	}, nil
}

// FindJob locates a job by id across every stage queue and state.
func (q *Queue) FindJob(ctx context.Context, jobID string) (*Job, State, error) {
	if q.client == nil {
		return nil, "", fmt.Errorf("queue is not connected")
	}

	for _, queueName := range Queues {
		payload, err := q.client.HGet(ctx, key(queueName, "jobs"), jobID).Result()
		if err != nil && err != redis.Nil {
			return nil, "", fmt.Errorf("failed to look up job %s: %w", jobID, err)
		}
		if err == nil {
			var wire wireJob
			if err := json.Unmarshal([]byte(payload), &wire); err != nil {
				return nil, "", fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
			}
			state, err := q.liveState(ctx, queueName, jobID)
			if err != nil {
				return nil, "", err
			}
			return &wire.Job, state, nil
		}

		// archives hold full payloads, not hash entries. The completed list
		// is length-trimmed; the failed list is TTL-bounded and must be
		// scanned in full.
		for _, archive := range []State{StateCompleted, StateFailed} {
			end := int64(completedKeep - 1)
			if archive == StateFailed {
				end = -1
			}
			entries, err := q.client.LRange(ctx, key(queueName, string(archive)), 0, end).Result()
			if err != nil && err != redis.Nil {
				return nil, "", fmt.Errorf("failed to scan %s archive: %w", archive, err)
			}
			for _, entry := range entries {
				var wire wireJob
				if json.Unmarshal([]byte(entry), &wire) == nil && wire.ID == jobID {
					return &wire.Job, archive, nil
				}
			}
		}
	}
	return nil, "", ErrJobNotFound
}

func (q *Queue) liveState(ctx context.Context, queueName, jobID string) (State, error) {
	for _, state := range []State{StateProcessing, StateWaiting, StateDelayed} {
		_, err := q.client.ZScore(ctx, key(queueName, string(state)), jobID).Result()
		if err == nil {
			return state, nil
		}
		if err != redis.Nil {
			return "", fmt.Errorf("failed to check %s membership: %w", state, err)
		}
	}
	// payload exists but no set membership; treat as waiting
	return StateWaiting, nil
}

// Client exposes the underlying Redis client for sibling subsystems that
// share the connection, like the event relay.
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Close closes the queue connection.
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

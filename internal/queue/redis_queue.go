package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/BossHoder/kollector/internal/models"
)

// Options fixes the retry and retention policy for the analysis queue.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	LeaseTTL        time.Duration // per-attempt execution timeout
	RetainCompleted time.Duration
	RetainFailed    time.Duration
}

// Queue is a durable Redis-backed job queue. Jobs move between a ready list,
// a delayed set (retry backoff), and an in-flight set scored by lease
// deadline. An un-acknowledged active job whose lease expires becomes
// re-deliverable, which gives at-least-once semantics across consumer
// crashes. Completed and terminally failed jobs stay in retention sets until
// purged, for inspection.
type Queue struct {
	client *redis.Client
	opts   Options

	readyKey     string
	delayedKey   string
	inflightKey  string
	completedKey string
	failedKey    string
	jobPrefix    string
}

// Counts is the read-only observability surface.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// New builds a queue client over an existing Redis connection.
func New(client *redis.Client, opts Options) *Queue {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.LeaseTTL == 0 {
		opts.LeaseTTL = 120 * time.Second
	}
	if opts.RetainCompleted == 0 {
		opts.RetainCompleted = 24 * time.Hour
	}
	if opts.RetainFailed == 0 {
		opts.RetainFailed = 7 * 24 * time.Hour
	}
	return &Queue{
		client:       client,
		opts:         opts,
		readyKey:     "analysis:ready",
		delayedKey:   "analysis:delayed",
		inflightKey:  "analysis:inflight",
		completedKey: "analysis:completed",
		failedKey:    "analysis:failed",
		jobPrefix:    "analysis:job:",
	}
}

// MaxAttempts exposes the configured attempt ceiling.
func (q *Queue) MaxAttempts() int { return q.opts.MaxAttempts }

func (q *Queue) jobKey(jobID string) string {
	return q.jobPrefix + jobID
}

// Enqueue validates the payload and inserts a waiting job. It returns the new
// job ID; nothing is created when validation fails.
func (q *Queue) Enqueue(ctx context.Context, p JobPayload) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	job := models.AnalysisJob{
		ID:          uuid.New().String(),
		AssetID:     p.AssetID,
		OwnerID:     p.OwnerID,
		SourceURL:   p.SourceURL,
		Category:    p.Category,
		SubmittedAt: p.SubmittedAt,
		Attempt:     1,
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	pipe.RPush(ctx, q.readyKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return job.ID, nil
}

// Dequeue pops one ready job and places it in-flight under a lease. It
// returns nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*models.AnalysisJob, error) {
	deadline := time.Now().Add(q.opts.LeaseTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	job, err := q.GetJob(ctx, jobID)
	if err == redis.Nil {
		// Record purged out from under the queue; drop the lease.
		_ = q.client.ZRem(ctx, q.inflightKey, jobID).Err()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob loads a job record by ID. It returns redis.Nil when absent.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	raw, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}
	var job models.AnalysisJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Complete acknowledges a job and moves it to the completed retention set.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZAdd(ctx, q.completedKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// Exhausted reports whether the job has reached the attempt ceiling.
func (q *Queue) Exhausted(job *models.AnalysisJob) bool {
	return job.Attempt >= q.opts.MaxAttempts
}

// Retry releases the lease and schedules the next attempt after an
// exponential backoff (2s, 4s, 8s between attempts). It returns the applied delay.
func (q *Queue) Retry(ctx context.Context, job *models.AnalysisJob, reason string) (time.Duration, error) {
	job.Attempt++
	job.LastError = reason
	delay := q.opts.BackoffBase << (job.Attempt - 2)
	raw, err := json.Marshal(job)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	eligible := time.Now().Add(delay)
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	pipe.ZRem(ctx, q.inflightKey, job.ID)
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(eligible.UnixMilli()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("schedule retry: %w", err)
	}
	return delay, nil
}

// Fail moves a job to the failed retention set. Terminal: the job will never
// be retried again.
func (q *Queue) Fail(ctx context.Context, job *models.AnalysisJob, reason string) error {
	job.LastError = reason
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), raw, 0)
	pipe.ZRem(ctx, q.inflightKey, job.ID)
	pipe.ZAdd(ctx, q.failedKey, redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteDelayed moves due delayed jobs back into the ready list. It returns
// how many were promoted.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.delayedKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the jobs at the
// same attempt number (duplicate delivery is possible; consumers guard).
func (q *Queue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// PurgeExpired drops completed jobs older than the completed retention and
// failed jobs older than the failed retention, along with their records. It
// returns how many were purged.
func (q *Queue) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	for _, set := range []struct {
		key    string
		retain time.Duration
	}{
		{q.completedKey, q.opts.RetainCompleted},
		{q.failedKey, q.opts.RetainFailed},
	} {
		cutoff := fmt.Sprintf("%d", now.Add(-set.retain).UnixMilli())
		ids, err := q.client.ZRangeByScore(ctx, set.key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return purged, err
		}
		if len(ids) == 0 {
			continue
		}
		pipe := q.client.TxPipeline()
		for _, id := range ids {
			pipe.ZRem(ctx, set.key, id)
			pipe.Del(ctx, q.jobKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, err
		}
		purged += len(ids)
	}
	return purged, nil
}

// Counts returns per-state job counts. Paused is always zero: the queue has
// no pause control, the field exists for surface compatibility.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	waiting := pipe.LLen(ctx, q.readyKey)
	active := pipe.ZCard(ctx, q.inflightKey)
	completed := pipe.ZCard(ctx, q.completedKey)
	failed := pipe.ZCard(ctx, q.failedKey)
	delayed := pipe.ZCard(ctx, q.delayedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, err
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}, nil
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

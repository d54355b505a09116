package queue_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BossHoder/kollector/internal/queue"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return queue.New(client, queue.Options{
		MaxAttempts:     3,
		BackoffBase:     2 * time.Second,
		LeaseTTL:        120 * time.Second,
		RetainCompleted: 24 * time.Hour,
		RetainFailed:    7 * 24 * time.Hour,
	})
}

func validPayload() queue.JobPayload {
	return queue.JobPayload{
		AssetID:     "A1",
		OwnerID:     "U1",
		SourceURL:   "https://x/a.jpg",
		Category:    "sneaker",
		SubmittedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEnqueue_MissingFieldRejected(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	cases := map[string]func(*queue.JobPayload){
		"assetId":     func(p *queue.JobPayload) { p.AssetID = "" },
		"ownerId":     func(p *queue.JobPayload) { p.OwnerID = "" },
		"sourceUrl":   func(p *queue.JobPayload) { p.SourceURL = "" },
		"category":    func(p *queue.JobPayload) { p.Category = "" },
		"submittedAt": func(p *queue.JobPayload) { p.SubmittedAt = time.Time{} },
	}

	for field, clear := range cases {
		p := validPayload()
		clear(&p)
		_, err := q.Enqueue(ctx, p)
		require.Error(t, err, field)
		assert.True(t, queue.IsMissingField(err), field)

		var mf *queue.MissingFieldError
		require.ErrorAs(t, err, &mf)
		assert.Equal(t, field, mf.Field)
	}

	// No job was created for any rejected payload.
	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Counts{}, counts)
}

func TestParsePayload_StripsExtraFields(t *testing.T) {
	raw := []byte(`{
		"assetId": "A1",
		"ownerId": "U1",
		"sourceUrl": "https://x/a.jpg",
		"category": "sneaker",
		"submittedAt": "2025-01-01T00:00:00Z",
		"priority": "high",
		"maxAttempts": 99
	}`)

	p, err := queue.ParsePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, validPayload(), p)

	round, err := json.Marshal(p)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(round, &m))
	assert.ElementsMatch(t,
		[]string{"assetId", "ownerId", "sourceUrl", "category", "submittedAt"},
		keys(m))
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestQueue_EnqueueDequeueComplete(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	jobID, err := q.Enqueue(ctx, validPayload())
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Waiting)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, "A1", job.AssetID)
	assert.Equal(t, 1, job.Attempt)

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts.Waiting)
	assert.EqualValues(t, 1, counts.Active)

	require.NoError(t, q.Complete(ctx, job.ID))
	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, counts.Active)
	assert.EqualValues(t, 1, counts.Completed)

	// Empty queue returns nil without error.
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_RetryBackoffAndPromotion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Enqueue(ctx, validPayload())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	delay, err := q.Retry(ctx, job, "status 503")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, delay)
	assert.Equal(t, 2, job.Attempt)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Delayed)
	assert.EqualValues(t, 0, counts.Active)

	// Not yet due.
	n, err := q.PromoteDelayed(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PromoteDelayed(ctx, time.Now().Add(3*time.Second), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "status 503", job.LastError)

	// Second retry doubles the delay and puts the job on its final attempt.
	delay, err = q.Retry(ctx, job, "status 503")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, delay)
	assert.Equal(t, 3, job.Attempt)
	assert.True(t, q.Exhausted(job))
}

func TestQueue_FailMovesToRetention(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Enqueue(ctx, validPayload())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job, "status 404"))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts.Failed)
	assert.EqualValues(t, 0, counts.Active)

	kept, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "status 404", kept.LastError)
}

func TestQueue_RequeueExpiredLease(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Enqueue(ctx, validPayload())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// Lease still live: nothing reclaimed.
	ids, err := q.RequeueExpired(ctx, time.Now(), 100)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = q.RequeueExpired(ctx, time.Now().Add(121*time.Second), 100)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// Redelivered at the same attempt number.
	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, job.ID, redelivered.ID)
	assert.Equal(t, job.Attempt, redelivered.Attempt)
}

func TestQueue_PurgeExpiredRetention(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	_, err := q.Enqueue(ctx, validPayload())
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID))

	// Inside the 24h window the record survives.
	n, err := q.PurgeExpired(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PurgeExpired(ctx, time.Now().Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, redis.Nil)
}

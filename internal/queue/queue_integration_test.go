//go:build integration
// +build integration

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests - only run when Redis is available.

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()
	ctx := context.Background()

	q, err := NewQueue(ctx)
	if err != nil {
		t.Skipf("Skipping test: Redis not available: %v", err)
		return nil
	}
	t.Cleanup(func() {
		// remove everything this test left behind
		keys, _ := q.client.Keys(ctx, keyPrefix+":*").Result()
		if len(keys) > 0 {
			q.client.Del(ctx, keys...)
		}
		q.Close()
	})
	return q
}

func TestQueueClaimCycle(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1", FileKey: "uploads/1_abc.mp3"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{}))
	assert.NotEmpty(t, job.ID)

	claimed, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, "rec-1", claimed.RecordID)

	// the job is now in processing, not claimable again
	again, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, q.Complete(ctx, QueueTranscription, job.ID))

	found, state, err := q.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
	assert.Equal(t, job.ID, found.ID)
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	low := &Job{RecordID: "rec-low", Priority: 3}
	high := &Job{RecordID: "rec-high", Priority: 1}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, low, EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, high, EnqueueOptions{}))

	first, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "rec-high", first.RecordID, "lower priority value runs first")
}

func TestQueueFailAndRetry(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{}))

	claimed, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// first failure goes to the delayed set with backoff
	require.NoError(t, q.Fail(ctx, QueueTranscription, job.ID, "transient", -1))

	found, state, err := q.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, state)
	assert.Equal(t, 1, found.Attempt)
	assert.Equal(t, "transient", found.FailReason)
}

func TestQueueFailPoisonBuriesImmediately(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{}))

	_, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, QueueTranscription, job.ID, "poison", 0))

	_, state, err := q.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
}

func TestQueueFindJobScansFullFailedArchive(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{}))
	_, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, QueueTranscription, job.ID, "poison", 0))

	// newer failures push the job deep into the TTL-bounded archive
	for i := 0; i < completedKeep+20; i++ {
		payload := fmt.Sprintf(`{"id":"job-filler-%d","record_id":"rec-x"}`, i)
		require.NoError(t, q.client.LPush(ctx, key(QueueTranscription, "failed"), payload).Err())
	}

	found, state, err := q.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, job.ID, found.ID)
}

func TestQueueDelayedPromotion(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{Delay: 50 * time.Millisecond}))

	// not claimable before the delay elapses
	early, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	assert.Nil(t, early)

	time.Sleep(80 * time.Millisecond)

	late, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)
	require.NotNil(t, late)
	assert.Equal(t, job.ID, late.ID)
}

func TestQueueSweepRecoversStuckJobs(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	job := &Job{RecordID: "rec-1"}
	require.NoError(t, q.Enqueue(ctx, QueueTranscription, job, EnqueueOptions{}))
	_, err := q.Claim(ctx, QueueTranscription, "worker-test")
	require.NoError(t, err)

	// a zero grace treats every processing job as overdue
	moved, err := q.Sweep(ctx, QueueTranscription, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	found, state, err := q.FindJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, state)
	assert.Equal(t, 1, found.Attempt)
}

func TestQueueCounts(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, QueueSummary, &Job{RecordID: "rec-1"}, EnqueueOptions{}))
	require.NoError(t, q.Enqueue(ctx, QueueSummary, &Job{RecordID: "rec-2"}, EnqueueOptions{Delay: time.Hour}))

	counts, err := q.Counts(ctx, QueueSummary)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
	assert.Equal(t, int64(1), counts.Delayed)
}

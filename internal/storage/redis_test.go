package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-service/internal/processor"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisJobStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisJobStoreWithClient(client, "test:jobs", ttl)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, store.CreateJob(ctx, &JobRecord{ID: "job-1", Filename: "scan.png", FileSize: 123}))
	assert.True(t, mr.Exists("test:jobs:job:job-1"))
	assert.Equal(t, time.Hour, mr.TTL("test:jobs:job:job-1"))

	job, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, "scan.png", job.Filename)
	assert.False(t, job.CreatedAt.IsZero())

	require.NoError(t, store.UpdateJobStatus(ctx, &JobUpdate{JobID: "job-1", Status: JobProcessing}))

	result := processor.Aggregate([]processor.RecognitionHit{{Text: "HELLO", Confidence: 0.9}}, "PNG", "100x50")
	require.NoError(t, store.UpdateJobStatus(ctx, &JobUpdate{
		JobID:            "job-1",
		Status:           JobCompleted,
		Result:           result,
		ProcessingTimeMs: 15,
	}))

	job, err = store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "HELLO", job.Result.Text)
	assert.Equal(t, 0.9, *job.Result.Confidence)
	assert.Equal(t, int64(15), job.ProcessingTimeMs)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"queued": 0, "processing": 0, "completed": 1, "failed": 0}, stats)
}

func TestRedisJobStoreRejectsDuplicateAndTerminalUpdates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t, time.Hour)

	require.NoError(t, store.CreateJob(ctx, &JobRecord{ID: "dup"}))
	assert.Error(t, store.CreateJob(ctx, &JobRecord{ID: "dup"}))
	assert.Error(t, store.CreateJob(ctx, &JobRecord{}))

	require.NoError(t, store.UpdateJobStatus(ctx, &JobUpdate{JobID: "dup", Status: JobFailed, ErrorCode: "OCR_FAILED"}))
	assert.Error(t, store.UpdateJobStatus(ctx, &JobUpdate{JobID: "dup", Status: JobCompleted}))

	job, err := store.GetJob(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "OCR_FAILED", job.ErrorCode)
}

func TestRedisJobStoreMissingAndExpired(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Minute)

	_, err := store.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = store.UpdateJobStatus(ctx, &JobUpdate{JobID: "nope", Status: JobProcessing})
	assert.ErrorIs(t, err, ErrJobNotFound)

	require.NoError(t, store.CreateJob(ctx, &JobRecord{ID: "short"}))
	mr.FastForward(2 * time.Minute)

	_, err = store.GetJob(ctx, "short")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisJobStorePublishesTransitions(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t, time.Hour)

	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()}).Subscribe(ctx, store.EventsChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	events := sub.Channel()

	require.NoError(t, store.CreateJob(ctx, &JobRecord{ID: "evt"}))
	require.NoError(t, store.UpdateJobStatus(ctx, &JobUpdate{JobID: "evt", Status: JobProcessing}))

	for _, want := range []string{"job:queued", "job:processing"} {
		select {
		case msg := <-events:
			var event map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
			assert.Equal(t, want, event["event"])
			assert.Equal(t, "evt", event["jobId"])
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestNewRedisJobStoreValidatesURL(t *testing.T) {
	_, err := NewRedisJobStore("", "p", time.Hour)
	assert.Error(t, err)

	_, err = NewRedisJobStore("not-a-url", "p", time.Hour)
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	store, err := NewRedisJobStore("redis://"+mr.Addr()+"/0", "", 0)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, "ocr:jobs:events", store.EventsChannel())
}

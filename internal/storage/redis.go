/**
 * Redis job store
 *
 * Job records live under <prefix>:job:<id> as JSON with a TTL. Status sets
 * (<prefix>:queued, <prefix>:processing, ...) back GET /jobs/stats, and
 * every transition is published on <prefix>:events for subscribers.
 */

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/ocr-service/internal/logging"
)

// RedisJobStore implements JobStore on go-redis
type RedisJobStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisJobStore connects to redisURL and verifies the connection
func NewRedisJobStore(redisURL, prefix string, ttl time.Duration) (*RedisJobStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisJobStoreWithClient(client, prefix, ttl), nil
}

// NewRedisJobStoreWithClient wraps an existing client
func NewRedisJobStoreWithClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJobStore {
	if prefix == "" {
		prefix = "ocr:jobs"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisJobStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logging.NewLogger("redis-store"),
	}
}

func (s *RedisJobStore) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", s.prefix, jobID)
}

func (s *RedisJobStore) statusKey(status JobStatus) string {
	return fmt.Sprintf("%s:%s", s.prefix, status)
}

// EventsChannel is the pub/sub channel carrying job transitions
func (s *RedisJobStore) EventsChannel() string {
	return s.prefix + ":events"
}

// CreateJob stores a new record. Creating an id twice is an error.
func (s *RedisJobStore) CreateJob(ctx context.Context, job *JobRecord) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Status == "" {
		job.Status = JobQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	if !created {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	if err := s.client.SAdd(ctx, s.statusKey(job.Status), job.ID).Err(); err != nil {
		s.logger.Warn("Failed to index job status", "job_id", job.ID, "error", err)
	}
	s.publish(ctx, job)
	return nil
}

// UpdateJobStatus applies update to the stored record and moves the id
// between status sets.
func (s *RedisJobStore) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update == nil || update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	job, err := s.GetJob(ctx, update.JobID)
	if err != nil {
		return err
	}

	previous := job.Status
	if err := job.Apply(update, time.Now().UTC()); err != nil {
		return err
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.jobKey(job.ID), data, s.ttl)
		if previous != job.Status {
			pipe.SRem(ctx, s.statusKey(previous), job.ID)
		}
		pipe.SAdd(ctx, s.statusKey(job.Status), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	s.publish(ctx, job)
	return nil
}

// GetJob loads a record; ErrJobNotFound once it has expired.
func (s *RedisJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	data, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var job JobRecord
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// GetStats returns the number of ids in each status set
func (s *RedisJobStore) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, len(AllStatuses))
	for _, status := range AllStatuses {
		n, err := s.client.SCard(ctx, s.statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		stats[string(status)] = n
	}
	return stats, nil
}

// Close closes the Redis connection
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

// publish emits a job:<status> event; failures are logged only.
func (s *RedisJobStore) publish(ctx context.Context, job *JobRecord) {
	event := map[string]interface{}{
		"event":     fmt.Sprintf("job:%s", job.Status),
		"jobId":     job.ID,
		"timestamp": job.UpdatedAt.Format(time.RFC3339),
	}
	eventData, _ := json.Marshal(event)
	if err := s.client.Publish(ctx, s.EventsChannel(), eventData).Err(); err != nil {
		s.logger.Warn("Failed to publish job event", "job_id", job.ID, "error", err)
	}
}

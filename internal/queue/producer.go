package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Producer enqueues extraction tasks
type Producer struct {
	client  *asynq.Client
	queue   string
	timeout time.Duration
}

// NewProducer creates an asynq client for the given queue
func NewProducer(redisURL, queueName string, timeout time.Duration) (*Producer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Producer{
		client:  asynq.NewClient(redisOpt),
		queue:   queueName,
		timeout: timeout,
	}, nil
}

// NewExtractTask builds the task for payload. Tasks are never retried:
// a failed extraction is recorded on the job, not re-run.
func NewExtractTask(payload *JobPayload, queueName string, timeout time.Duration) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.TaskID(payload.JobID),
	}
	if queueName != "" {
		opts = append(opts, asynq.Queue(queueName))
	}
	if timeout > 0 {
		// Leave headroom so the handler records its own timeout first.
		opts = append(opts, asynq.Timeout(timeout+30*time.Second))
	}

	return asynq.NewTask(TypeExtract, data, opts...), nil
}

// Enqueue submits one extraction job
func (p *Producer) Enqueue(ctx context.Context, payload *JobPayload) (*asynq.TaskInfo, error) {
	task, err := NewExtractTask(payload, p.queue, p.timeout)
	if err != nil {
		return nil, err
	}

	info, err := p.client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

// Close closes the asynq client
func (p *Producer) Close() error {
	return p.client.Close()
}

/**
 * Queue Consumer for the OCR service
 *
 * Consumes ocr:extract tasks from Redis via asynq, runs them through the
 * extraction pipeline and records every status transition in the job store.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/logging"
	"github.com/adverant/nexus/ocr-service/internal/observability"
	"github.com/adverant/nexus/ocr-service/internal/processor"
	"github.com/adverant/nexus/ocr-service/internal/storage"
)

// Consumer handles job consumption from Redis queue
type Consumer struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	extractor processor.ExtractorInterface
	store     storage.JobStore
	metrics   *observability.Metrics
	config    *ConsumerConfig
	logger    *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Extractor         processor.ExtractorInterface
	Store             storage.JobStore
	Metrics           *observability.Metrics
	ProcessingTimeout int64  // Processing timeout in milliseconds (default: 60000)
	EngineName        string // Recorded with OCR failures
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Extractor == nil {
		return nil, fmt.Errorf("Extractor is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	logger := logging.NewLogger("queue-consumer")
	consumer := &Consumer{
		mux:       asynq.NewServeMux(),
		extractor: cfg.Extractor,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
		config:    cfg,
		logger:    logger,
	}
	consumer.mux.HandleFunc(TypeExtract, consumer.HandleExtract)

	// No Redis URL means a handler-only consumer (tests, embedding).
	if cfg.RedisURL == "" {
		return consumer, nil
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	consumer.server = asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task processing error", "type", task.Type(), "error", err)
			}),
			Logger:   logging.NewLogger("asynq").Entry(),
			LogLevel: asynq.WarnLevel,
		},
	)

	return consumer, nil
}

// Run processes tasks until ctx is cancelled, then shuts the server down
func (c *Consumer) Run(ctx context.Context) error {
	if c.server == nil {
		return fmt.Errorf("consumer has no Redis connection")
	}

	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)
	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}

	<-ctx.Done()

	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return 60 * time.Second
}

// HandleExtract processes one extraction task. Malformed payloads are
// skipped; pipeline outcomes are recorded on the job and never retried.
func (c *Consumer) HandleExtract(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	var payload JobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("job data has no jobId: %w", asynq.SkipRetry)
	}

	log := c.logger.With("job_id", payload.JobID)
	log.Info("Processing image", "filename", payload.Filename, "size", len(payload.FileBuffer))

	if err := c.store.UpdateJobStatus(ctx, &storage.JobUpdate{JobID: payload.JobID, Status: storage.JobProcessing}); err != nil {
		log.Warn("Failed to update status to processing", "error", err)
	}

	processCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	requestID := payload.RequestID
	if requestID == "" {
		requestID = payload.JobID
	}

	result, err := c.extractor.Extract(processCtx, &processor.ExtractRequest{
		RequestID:   requestID,
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Data:        payload.FileBuffer,
	})

	duration := time.Since(startTime)
	update := &storage.JobUpdate{
		JobID:            payload.JobID,
		ProcessingTimeMs: duration.Milliseconds(),
	}

	switch {
	case err != nil:
		se, ok := svcerrors.AsServiceError(err)
		if !ok {
			se = svcerrors.NewInternalError(requestID, err)
		}
		update.Status = storage.JobFailed
		update.ErrorCode = string(se.Code)
		update.ErrorMessage = se.Message
		update.ErrorDetails = se.ToMap()
		log.Warn("Extraction rejected", "duration", duration, "error", err)

	case !result.Success:
		se := c.failureError(requestID, result)
		update.Status = storage.JobFailed
		update.Result = result
		update.ErrorCode = string(se.Code)
		update.ErrorMessage = se.Cause.Error()
		update.ErrorDetails = se.ToMap()
		log.Warn("Extraction failed", "duration", duration, "error_code", se.Code, "error", update.ErrorMessage)

	default:
		update.Status = storage.JobCompleted
		update.Result = result
		log.Info("Extraction completed", "duration", duration, "text_length", len(result.Text))
	}

	c.metrics.RecordJob(string(update.Status))

	if err := c.store.UpdateJobStatus(ctx, update); err != nil {
		log.Error("Failed to record job outcome", "status", update.Status, "error", err)
		return fmt.Errorf("failed to record job %s: %w", payload.JobID, err)
	}

	return nil
}

// failureError classifies a failed result. Results without image metadata
// failed before the image was decoded; the rest failed in the engine.
func (c *Consumer) failureError(requestID string, result *processor.ExtractionResult) *svcerrors.ServiceError {
	message := "Extraction failed"
	if result.Error != nil && *result.Error != "" {
		message = *result.Error
	}
	cause := stderrors.New(message)

	if result.ImageFormat == nil {
		return svcerrors.NewPreprocessingFailedError(requestID, "decode", cause)
	}
	return svcerrors.NewOCRFailedError(requestID, c.config.EngineName, cause)
}

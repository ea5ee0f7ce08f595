/**
 * Storage Manager for the OCR service
 *
 * Coordinates job storage across Redis (live records, required) and
 * PostgreSQL (history, optional). Redis is authoritative; history writes are
 * best-effort and never fail a job transition.
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-service/internal/logging"
)

// HistoryStore is the durable side of the manager
type HistoryStore interface {
	UpsertJob(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

type closer interface {
	Close() error
}

type statsSource interface {
	GetStats(ctx context.Context) (map[string]int64, error)
}

// StorageManager implements JobStore over a live store and an optional history
type StorageManager struct {
	live    JobStore
	history HistoryStore
	logger  *logging.Logger
}

// ManagerConfig holds connection settings
type ManagerConfig struct {
	RedisURL    string
	Prefix      string
	TTL         time.Duration
	DatabaseURL string
}

// NewStorageManager connects Redis and, when DatabaseURL is set, PostgreSQL
func NewStorageManager(cfg *ManagerConfig) (*StorageManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	live, err := NewRedisJobStore(cfg.RedisURL, cfg.Prefix, cfg.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis job store: %w", err)
	}

	var history HistoryStore
	if cfg.DatabaseURL != "" {
		pg, err := NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			live.Close() // Cleanup on failure
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			live.Close()
			return nil, err
		}
		history = pg
	}

	return NewStorageManagerWith(live, history), nil
}

// NewStorageManagerWith assembles a manager from existing stores; history may be nil
func NewStorageManagerWith(live JobStore, history HistoryStore) *StorageManager {
	return &StorageManager{
		live:    live,
		history: history,
		logger:  logging.NewLogger("storage"),
	}
}

// HasHistory reports whether PostgreSQL history is configured
func (sm *StorageManager) HasHistory() bool {
	return sm.history != nil
}

// CreateJob stores the record in Redis, then mirrors it to history
func (sm *StorageManager) CreateJob(ctx context.Context, job *JobRecord) error {
	if err := sm.live.CreateJob(ctx, job); err != nil {
		return err
	}
	sm.mirror(ctx, job)
	return nil
}

// UpdateJobStatus applies the transition in Redis, then mirrors the merged record
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if err := sm.live.UpdateJobStatus(ctx, update); err != nil {
		return err
	}
	if sm.history == nil {
		return nil
	}

	job, err := sm.live.GetJob(ctx, update.JobID)
	if err != nil {
		sm.logger.Warn("Could not reload job for history", "job_id", update.JobID, "error", err)
		return nil
	}
	sm.mirror(ctx, job)
	return nil
}

// GetJob reads from Redis and falls back to history once the record has expired
func (sm *StorageManager) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	job, err := sm.live.GetJob(ctx, jobID)
	if err == nil || !errors.Is(err, ErrJobNotFound) || sm.history == nil {
		return job, err
	}
	return sm.history.GetJob(ctx, jobID)
}

// GetStats returns per-status counts when the live store can report them
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]int64, error) {
	src, ok := sm.live.(statsSource)
	if !ok {
		return map[string]int64{}, nil
	}
	return src.GetStats(ctx)
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var liveErr, historyErr error

	if c, ok := sm.live.(closer); ok {
		liveErr = c.Close()
	}
	if c, ok := sm.history.(closer); ok {
		historyErr = c.Close()
	}

	if liveErr != nil {
		return fmt.Errorf("failed to close Redis: %w", liveErr)
	}
	if historyErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", historyErr)
	}
	return nil
}

func (sm *StorageManager) mirror(ctx context.Context, job *JobRecord) {
	if sm.history == nil {
		return
	}
	if err := sm.history.UpsertJob(ctx, job); err != nil {
		sm.logger.Warn("Failed to write job history", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

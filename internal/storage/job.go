package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adverant/nexus/ocr-service/internal/processor"
)

// ErrJobNotFound is returned when a job id is unknown or has expired.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the lifecycle state of an asynchronous extraction job
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []JobStatus{JobQueued, JobProcessing, JobCompleted, JobFailed}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// JobRecord is the persisted view of one job
type JobRecord struct {
	ID               string                      `json:"job_id"`
	Status           JobStatus                   `json:"status"`
	Filename         string                      `json:"filename,omitempty"`
	ContentType      string                      `json:"content_type,omitempty"`
	FileSize         int64                       `json:"file_size,omitempty"`
	Result           *processor.ExtractionResult `json:"result,omitempty"`
	ErrorCode        string                      `json:"error_code,omitempty"`
	ErrorMessage     string                      `json:"error,omitempty"`
	ErrorDetails     map[string]interface{}      `json:"error_details,omitempty"`
	ProcessingTimeMs int64                       `json:"processing_time_ms,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	UpdatedAt        time.Time                   `json:"updated_at"`
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	Status           JobStatus
	Result           *processor.ExtractionResult
	ErrorCode        string
	ErrorMessage     string
	ErrorDetails     map[string]interface{}
	ProcessingTimeMs int64
}

// Apply merges u into r. Terminal records are immutable.
func (r *JobRecord) Apply(u *JobUpdate, now time.Time) error {
	if u == nil {
		return fmt.Errorf("update is required")
	}
	if !u.Status.Valid() {
		return fmt.Errorf("invalid job status %q", u.Status)
	}
	if r.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", r.ID, r.Status)
	}

	r.Status = u.Status
	if u.Result != nil {
		r.Result = u.Result
	}
	if u.ErrorCode != "" {
		r.ErrorCode = u.ErrorCode
	}
	if u.ErrorMessage != "" {
		r.ErrorMessage = u.ErrorMessage
	}
	if len(u.ErrorDetails) > 0 {
		r.ErrorDetails = u.ErrorDetails
	}
	if u.ProcessingTimeMs > 0 {
		r.ProcessingTimeMs = u.ProcessingTimeMs
	}
	r.UpdatedAt = now
	return nil
}

// JobStore persists job records across the HTTP boundary and the workers.
type JobStore interface {
	CreateJob(ctx context.Context, job *JobRecord) error
	UpdateJobStatus(ctx context.Context, update *JobUpdate) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

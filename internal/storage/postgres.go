/**
 * PostgreSQL Client for the OCR service
 *
 * Keeps a durable history of asynchronous extraction jobs. Redis holds the
 * live record with a TTL; this table outlives it.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/adverant/nexus/ocr-service/internal/processor"
)

const schemaDDL = `
	CREATE SCHEMA IF NOT EXISTS ocr;
	CREATE TABLE IF NOT EXISTS ocr.extraction_jobs (
		id                 UUID PRIMARY KEY,
		status             TEXT NOT NULL,
		filename           TEXT,
		content_type       TEXT,
		file_size          BIGINT,
		success            BOOLEAN,
		extracted_text     TEXT,
		confidence         NUMERIC(5,4),
		word_count         INTEGER,
		image_format       TEXT,
		image_size         TEXT,
		error_code         TEXT,
		error_message      TEXT,
		error_details      JSONB,
		processing_time_ms BIGINT,
		result             JSONB,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	ALTER TABLE ocr.extraction_jobs ADD COLUMN IF NOT EXISTS error_details JSONB;
	CREATE INDEX IF NOT EXISTS extraction_jobs_status_idx ON ocr.extraction_jobs (status);
`

const upsertJobQuery = `
	INSERT INTO ocr.extraction_jobs (
		id, status, filename, content_type, file_size,
		success, extracted_text, confidence, word_count,
		image_format, image_size, error_code, error_message,
		processing_time_ms, result, created_at, updated_at, error_details
	) VALUES (
		$1::uuid, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, 0),
		$6, $7, $8::NUMERIC(5,4), $9,
		$10, $11, NULLIF($12, ''), NULLIF($13, ''),
		NULLIF($14, 0), $15::jsonb, $16, $17, $18::jsonb
	)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		success = COALESCE(EXCLUDED.success, ocr.extraction_jobs.success),
		extracted_text = COALESCE(EXCLUDED.extracted_text, ocr.extraction_jobs.extracted_text),
		confidence = COALESCE(EXCLUDED.confidence, ocr.extraction_jobs.confidence),
		word_count = COALESCE(EXCLUDED.word_count, ocr.extraction_jobs.word_count),
		image_format = COALESCE(EXCLUDED.image_format, ocr.extraction_jobs.image_format),
		image_size = COALESCE(EXCLUDED.image_size, ocr.extraction_jobs.image_size),
		error_code = COALESCE(EXCLUDED.error_code, ocr.extraction_jobs.error_code),
		error_message = COALESCE(EXCLUDED.error_message, ocr.extraction_jobs.error_message),
		error_details = COALESCE(EXCLUDED.error_details, ocr.extraction_jobs.error_details),
		processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.extraction_jobs.processing_time_ms),
		result = COALESCE(EXCLUDED.result, ocr.extraction_jobs.result),
		updated_at = EXCLUDED.updated_at
`

const selectJobQuery = `
	SELECT
		id, status, filename, content_type, file_size,
		error_code, error_message, error_details, processing_time_ms, result,
		created_at, updated_at
	FROM ocr.extraction_jobs
	WHERE id = $1::uuid
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient opens a pool and verifies the connection
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// NewPostgresClientFromDB wraps an already opened pool
func NewPostgresClientFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// EnsureSchema creates the history table if it does not exist
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertJob writes the full record, creating the row on first sight
func (p *PostgresClient) UpsertJob(ctx context.Context, job *JobRecord) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Status == "" {
		return fmt.Errorf("status is required")
	}

	var (
		success     sql.NullBool
		text        sql.NullString
		confidence  sql.NullFloat64
		wordCount   sql.NullInt64
		imageFormat sql.NullString
		imageSize   sql.NullString
		resultJSON  []byte
	)

	if r := job.Result; r != nil {
		success = sql.NullBool{Bool: r.Success, Valid: true}
		text = sql.NullString{String: sanitizeText(r.Text), Valid: true}
		if r.Confidence != nil {
			confidence = sql.NullFloat64{Float64: sanitizeConfidence(*r.Confidence), Valid: true}
		}
		if r.WordCount != nil {
			wordCount = sql.NullInt64{Int64: int64(*r.WordCount), Valid: true}
		}
		if r.ImageFormat != nil {
			imageFormat = sql.NullString{String: *r.ImageFormat, Valid: true}
		}
		if r.ImageSize != nil {
			imageSize = sql.NullString{String: *r.ImageSize, Valid: true}
		}

		data, err := json.Marshal(sanitizeResult(r))
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = data
	}

	var detailsJSON []byte
	if len(job.ErrorDetails) > 0 {
		data, err := json.Marshal(sanitizeDetails(job.ErrorDetails))
		if err != nil {
			return fmt.Errorf("failed to marshal error details: %w", err)
		}
		detailsJSON = data
	}

	createdAt, updatedAt := job.CreatedAt, job.UpdatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err := p.db.ExecContext(ctx, upsertJobQuery,
		job.ID,                         // $1
		string(job.Status),             // $2
		job.Filename,                   // $3
		job.ContentType,                // $4
		job.FileSize,                   // $5
		success,                        // $6
		text,                           // $7
		confidence,                     // $8 (4 decimals)
		wordCount,                      // $9
		imageFormat,                    // $10
		imageSize,                      // $11
		job.ErrorCode,                  // $12
		sanitizeText(job.ErrorMessage), // $13
		job.ProcessingTimeMs,           // $14
		nullableJSON(resultJSON),       // $15
		createdAt,                      // $16
		updatedAt,                      // $17
		nullableJSON(detailsJSON),      // $18
	)
	if err != nil {
		return fmt.Errorf("failed to upsert job (job=%s, status=%s): %w", job.ID, job.Status, err)
	}
	return nil
}

// GetJob reads a record back from history
func (p *PostgresClient) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	// Ids are UUIDs; anything else could never have been stored.
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrJobNotFound
	}

	var (
		job                        JobRecord
		status                     string
		filename, contentType      sql.NullString
		fileSize, processingTimeMs sql.NullInt64
		errorCode, errorMessage    sql.NullString
		resultJSON, detailsJSON    []byte
	)

	err := p.db.QueryRowContext(ctx, selectJobQuery, jobID).Scan(
		&job.ID, &status, &filename, &contentType, &fileSize,
		&errorCode, &errorMessage, &detailsJSON, &processingTimeMs, &resultJSON,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.Status = JobStatus(status)
	job.Filename = filename.String
	job.ContentType = contentType.String
	job.FileSize = fileSize.Int64
	job.ProcessingTimeMs = processingTimeMs.Int64
	job.ErrorCode = errorCode.String
	job.ErrorMessage = errorMessage.String

	if len(resultJSON) > 0 {
		var result processor.ExtractionResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		job.Result = &result
	}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &job.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error details: %w", err)
		}
	}

	return &job, nil
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// sanitizeConfidence clamps to [0,1] and rounds to 4 decimal places so the
// value fits NUMERIC(5,4) without float noise (0.9632000000000001).
func sanitizeConfidence(confidence float64) float64 {
	if confidence < 0.0 || confidence != confidence {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// sanitizeResult copies r with NUL bytes removed from its strings. JSONB
// rejects \u0000 but accepts every other escape json.Marshal produces.
func sanitizeResult(r *processor.ExtractionResult) *processor.ExtractionResult {
	clean := *r
	clean.Text = sanitizeText(r.Text)
	if r.Error != nil {
		msg := sanitizeText(*r.Error)
		clean.Error = &msg
	}
	return &clean
}

func sanitizeDetails(details map[string]interface{}) map[string]interface{} {
	clean := make(map[string]interface{}, len(details))
	for k, v := range details {
		if str, ok := v.(string); ok {
			v = sanitizeText(str)
		}
		clean[sanitizeText(k)] = v
	}
	return clean
}

// sanitizeText drops NUL bytes, which TEXT columns reject.
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func nullableJSON(data []byte) interface{} {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-service/internal/processor"
)

func newMockPostgres(t *testing.T) (*PostgresClient, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	client := NewPostgresClientFromDB(db)
	t.Cleanup(func() { _ = client.Close() })
	return client, mock
}

func TestSanitizeConfidence(t *testing.T) {
	assert.Equal(t, 0.9632, sanitizeConfidence(0.9632000000000001))
	assert.Equal(t, 0.1235, sanitizeConfidence(0.12346))
	assert.Equal(t, 0.0, sanitizeConfidence(-0.5))
	assert.Equal(t, 1.0, sanitizeConfidence(1.5))
}

const historyJobID = "6f1f3c5e-7a52-4d55-9a57-5b8f0c1e2d3a"

func TestSanitizeResultKeepsEscapedText(t *testing.T) {
	msg := "bad\x00 region"
	in := &processor.ExtractionResult{Text: `C:\u0001dir` + "\x00\x1f", Error: &msg}

	clean := sanitizeResult(in)
	assert.Equal(t, `C:\u0001dir`+"\x1f", clean.Text)
	assert.Equal(t, "bad region", *clean.Error)
	assert.Equal(t, "bad\x00 region", *in.Error, "input is not modified")

	data, err := json.Marshal(clean)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `\u0000`)

	var back processor.ExtractionResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, clean.Text, back.Text)
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "ab", sanitizeText("a\x00b"))
	assert.Equal(t, "a\x01b", sanitizeText("a\x01b"))
}

// jsonArg matches a driver value that decodes as JSON equal to want.
type jsonArg struct {
	want string
}

func (a jsonArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	var got, want interface{}
	if json.Unmarshal([]byte(s), &got) != nil || json.Unmarshal([]byte(a.want), &want) != nil {
		return false
	}
	gotJSON, _ := json.Marshal(got)
	wantJSON, _ := json.Marshal(want)
	return string(gotJSON) == string(wantJSON)
}

func TestUpsertJob(t *testing.T) {
	client, mock := newMockPostgres(t)
	result := processor.Aggregate([]processor.RecognitionHit{{Text: "HELLO", Confidence: 0.95}}, "PNG", "100x50")
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ocr.extraction_jobs")).
		WithArgs(
			historyJobID, "completed", "hello.png", "image/png", int64(2048),
			sql.NullBool{Bool: true, Valid: true},
			sql.NullString{String: "HELLO", Valid: true},
			sql.NullFloat64{Float64: 0.95, Valid: true},
			sql.NullInt64{Int64: 1, Valid: true},
			sql.NullString{String: "PNG", Valid: true},
			sql.NullString{String: "100x50", Valid: true},
			"", "", int64(12), sqlmock.AnyArg(), now, now, nil,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.UpsertJob(context.Background(), &JobRecord{
		ID:               historyJobID,
		Status:           JobCompleted,
		Filename:         "hello.png",
		ContentType:      "image/png",
		FileSize:         2048,
		Result:           result,
		ProcessingTimeMs: 12,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertJobValidation(t *testing.T) {
	client, _ := newMockPostgres(t)
	assert.Error(t, client.UpsertJob(context.Background(), nil))
	assert.Error(t, client.UpsertJob(context.Background(), &JobRecord{ID: "x"}))
}

func TestGetJobFromHistory(t *testing.T) {
	client, mock := newMockPostgres(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "status", "filename", "content_type", "file_size",
		"error_code", "error_message", "error_details", "processing_time_ms", "result",
		"created_at", "updated_at",
	}).AddRow(
		historyJobID, "failed", "x.jpg", nil, int64(10),
		"OCR_FAILED", "engine crashed", []byte(`{"error_code":"OCR_FAILED","engine":"Tesseract"}`),
		nil, []byte(`{"success":false,"text":"","error":"engine crashed"}`),
		created, created,
	)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ocr.extraction_jobs")).WithArgs(historyJobID).WillReturnRows(rows)

	job, err := client.GetJob(context.Background(), historyJobID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "x.jpg", job.Filename)
	assert.Equal(t, "", job.ContentType)
	assert.Equal(t, "OCR_FAILED", job.ErrorCode)
	assert.Equal(t, "Tesseract", job.ErrorDetails["engine"])
	require.NotNil(t, job.Result)
	assert.False(t, job.Result.Success)
	assert.Equal(t, "engine crashed", *job.Result.Error)
	assert.Equal(t, created, job.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	client, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM ocr.extraction_jobs")).WithArgs(historyJobID).WillReturnError(sql.ErrNoRows)

	_, err := client.GetJob(context.Background(), historyJobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNonUUIDNeverQueries(t *testing.T) {
	client, mock := newMockPostgres(t)

	_, err := client.GetJob(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertJobStoresSanitizedResultAndDetails(t *testing.T) {
	client, mock := newMockPostgres(t)
	msg := "OCR processing failed: bad\x00 box"
	result := &processor.ExtractionResult{Success: false, Text: `C:\u0001dir`, Error: &msg}
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ocr.extraction_jobs")).
		WithArgs(
			historyJobID, "failed", "", "", int64(0),
			sql.NullBool{Bool: false, Valid: true},
			sql.NullString{String: `C:\u0001dir`, Valid: true},
			sql.NullFloat64{}, sql.NullInt64{}, sql.NullString{}, sql.NullString{},
			"OCR_FAILED", "OCR processing failed: bad box", int64(0),
			jsonArg{want: `{"success":false,"text":"C:\\u0001dir","error":"OCR processing failed: bad box"}`},
			now, now,
			jsonArg{want: `{"engine":"Tesseract","cause":"bad box"}`},
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := client.UpsertJob(context.Background(), &JobRecord{
		ID:           historyJobID,
		Status:       JobFailed,
		Result:       result,
		ErrorCode:    "OCR_FAILED",
		ErrorMessage: "OCR processing failed: bad\x00 box",
		ErrorDetails: map[string]interface{}{"engine": "Tesseract", "cause": "bad\x00 box"},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	client, mock := newMockPostgres(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS ocr.extraction_jobs")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, client.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package queue

import "fmt"

// TypeExtract is the asynq task type for one image extraction
const TypeExtract = "ocr:extract"

// JobPayload contains the job data carried by an extraction task
type JobPayload struct {
	JobID       string `json:"jobId"`
	RequestID   string `json:"requestId,omitempty"`
	Filename    string `json:"filename"`
	ContentType string `json:"mimeType,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	// FileBuffer travels as standard base64.
	FileBuffer []byte `json:"fileBuffer,omitempty"`
}

// Validate checks the fields every task must carry
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.FileBuffer) == 0 {
		return fmt.Errorf("fileBuffer is required")
	}
	return nil
}

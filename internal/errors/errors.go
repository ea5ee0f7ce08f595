package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

/**
 * Custom error types for the OCR service
 *
 * Three families surface at the boundary:
 * - validation failures (400), detected before recognition
 * - engine unavailability (503), permanent for the process lifetime
 * - processing failures, converted to failed results where possible, 500 otherwise
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Validation errors
	ErrorValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorPayloadTooLarge   ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrorInvalidImage      ErrorCode = "INVALID_IMAGE"

	// Availability errors
	ErrorServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Processing errors
	ErrorOCRFailed           ErrorCode = "OCR_FAILED"
	ErrorPreprocessingFailed ErrorCode = "PREPROCESSING_FAILED"
	ErrorProcessingTimeout   ErrorCode = "PROCESSING_TIMEOUT"
	ErrorStorageFailed       ErrorCode = "STORAGE_FAILED"
	ErrorInternal            ErrorCode = "INTERNAL_ERROR"
)

// ServiceError represents a structured service error
type ServiceError struct {
	Code      ErrorCode
	Message   string
	RequestID string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether the error belongs to the validation family.
func (e *ServiceError) IsValidation() bool {
	switch e.Code {
	case ErrorValidationFailed, ErrorUnsupportedFormat, ErrorPayloadTooLarge, ErrorInvalidImage:
		return true
	}
	return false
}

// HTTPStatus maps the error code onto the status returned by the HTTP layer.
func (e *ServiceError) HTTPStatus() int {
	switch {
	case e.IsValidation():
		return http.StatusBadRequest
	case e.Code == ErrorServiceUnavailable:
		return http.StatusServiceUnavailable
	case e.Code == ErrorProcessingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Factory functions for common errors

func NewUnsupportedFormatError(contentType string) *ServiceError {
	return &ServiceError{
		Code:      ErrorUnsupportedFormat,
		Message:   "File must be a supported image type (PNG, JPG, JPEG)",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"content_type": contentType,
		},
	}
}

func NewPayloadTooLargeError(size, limit int64) *ServiceError {
	return &ServiceError{
		Code:      ErrorPayloadTooLarge,
		Message:   fmt.Sprintf("File size too large. Maximum size is %s", humanSize(limit)),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"size":  size,
			"limit": limit,
		},
	}
}

func NewInvalidImageError(cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorInvalidImage,
		Message:   "Invalid image file",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewValidationError(message string) *ServiceError {
	return &ServiceError{
		Code:      ErrorValidationFailed,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func NewServiceUnavailableError(engine string) *ServiceError {
	return &ServiceError{
		Code:      ErrorServiceUnavailable,
		Message:   "OCR service temporarily unavailable",
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
	}
}

func NewOCRFailedError(requestID string, engine string, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed in engine: %s", engine),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"engine": engine,
		},
		Cause: cause,
	}
}

func NewPreprocessingFailedError(requestID string, step string, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorPreprocessingFailed,
		Message:   fmt.Sprintf("Preprocessing step failed: %s", step),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"step": step,
		},
		Cause: cause,
	}
}

func NewProcessingTimeoutError(requestID string, duration time.Duration, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		RequestID: requestID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(requestID string, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store extraction results",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NewInternalError never carries internal details in its Message.
func NewInternalError(requestID string, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorInternal,
		Message:   "Internal server error",
		RequestID: requestID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// AsServiceError extracts a *ServiceError from an error chain.
func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// HasCode reports whether any ServiceError in the chain carries code.
func HasCode(err error, code ErrorCode) bool {
	se, ok := AsServiceError(err)
	return ok && se.Code == code
}

// ToMap converts error to map for job storage
func (e *ServiceError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.RequestID != "" {
		result["request_id"] = e.RequestID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}

func humanSize(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}

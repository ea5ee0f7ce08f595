/**
 * OCR Service - extraction pipeline
 *
 * readiness gate -> validation -> decode + normalize -> recognition -> aggregation
 *
 * Validation and availability failures are returned as errors for the
 * boundary to map onto 400/503. Recognition failures become a failed
 * ExtractionResult. Only unanticipated faults escape as internal errors.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"time"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/logging"
)

// TextRecognizer is the view of the Recognizer the pipeline needs.
type TextRecognizer interface {
	Name() string
	Version() string
	IsReady() bool
	Health() *ServiceHealth
	Recognize(ctx context.Context, img image.Image) ([]RecognitionHit, error)
}

// ExtractorInterface defines the interface for text extraction
type ExtractorInterface interface {
	Extract(ctx context.Context, req *ExtractRequest) (*ExtractionResult, error)
	IsReady() bool
}

// ExtractRequest represents one uploaded image
type ExtractRequest struct {
	RequestID   string
	Filename    string
	ContentType string
	Data        []byte
}

// ServiceConfig holds pipeline collaborators
type ServiceConfig struct {
	Validator    *ImageValidator
	Preprocessor *ImagePreprocessor
	Recognizer   TextRecognizer
}

// OCRService runs the extraction pipeline
type OCRService struct {
	validator    *ImageValidator
	preprocessor *ImagePreprocessor
	recognizer   TextRecognizer
	logger       *logging.Logger
}

// NewOCRService creates the pipeline
func NewOCRService(cfg *ServiceConfig) (*OCRService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}

	validator := cfg.Validator
	if validator == nil {
		validator = NewImageValidator(DefaultMaxUploadSize, nil)
	}

	preprocessor := cfg.Preprocessor
	if preprocessor == nil {
		preprocessor = NewImagePreprocessor(PreprocessorConfig{})
	}

	return &OCRService{
		validator:    validator,
		preprocessor: preprocessor,
		recognizer:   cfg.Recognizer,
		logger:       logging.NewLogger("ocr-service"),
	}, nil
}

// IsReady reports engine readiness
func (s *OCRService) IsReady() bool {
	return s.recognizer.IsReady()
}

// Health is the readiness gate shared with the HTTP layer
func (s *OCRService) Health() *ServiceHealth {
	return s.recognizer.Health()
}

// EngineName is reported by the health endpoint
func (s *OCRService) EngineName() string {
	return s.recognizer.Name()
}

// EngineVersion is empty while the engine is unavailable
func (s *OCRService) EngineVersion() string {
	return s.recognizer.Version()
}

// Validator exposes the upload validator for early checks at the boundary
func (s *OCRService) Validator() *ImageValidator {
	return s.validator
}

// Extract processes one image through the complete pipeline
func (s *OCRService) Extract(ctx context.Context, req *ExtractRequest) (result *ExtractionResult, err error) {
	log := s.logger.With("request_id", req.RequestID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Unexpected fault in extraction pipeline", "panic", r)
			result, err = nil, svcerrors.NewInternalError(req.RequestID, fmt.Errorf("%v", r))
		}
	}()

	// Step 1: Readiness gate; an unavailable engine short-circuits everything
	if !s.recognizer.IsReady() {
		return nil, svcerrors.NewServiceUnavailableError(s.recognizer.Name())
	}

	// Step 2: Validation
	if err := s.validator.Check(req.Data, req.ContentType); err != nil {
		log.Info("Rejected upload", "filename", req.Filename, "reason", err)
		return nil, err
	}

	startTime := time.Now()

	// Step 3: Decode and capture metadata
	decoded, err := s.preprocessor.Preprocess(req.Data)
	if err != nil {
		log.Error("Image processing failed", "error", err)
		return FailedResult(fmt.Sprintf("Image processing failed: %v", err), "", ""), nil
	}
	imageFormat, imageSize := decoded.Format, decoded.Size()

	// Step 4: Normalize (never fatal)
	prepared := s.preprocessor.Normalize(decoded)
	if !prepared.Normalized {
		log.Warn("Continuing with unmodified image", "format", imageFormat, "size", imageSize)
	}

	// Step 5: Recognition
	hits, err := s.recognizer.Recognize(ctx, prepared.Image)
	if err != nil {
		switch {
		case svcerrors.HasCode(err, svcerrors.ErrorServiceUnavailable):
			return nil, err
		case stderrors.Is(err, context.DeadlineExceeded):
			return nil, svcerrors.NewProcessingTimeoutError(req.RequestID, time.Since(startTime), err)
		case stderrors.Is(err, context.Canceled):
			return nil, svcerrors.NewInternalError(req.RequestID, err)
		}
		log.Error("OCR extraction failed", "error", err)
		return FailedResult(fmt.Sprintf("OCR processing failed: %v", err), imageFormat, imageSize), nil
	}

	// Step 6: Aggregation
	result = Aggregate(hits, imageFormat, imageSize)

	log.Info("Extraction completed",
		"duration", time.Since(startTime),
		"format", imageFormat,
		"size", imageSize,
		"regions", len(hits),
		"success", result.Success)

	return result, nil
}

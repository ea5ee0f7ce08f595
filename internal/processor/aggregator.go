package processor

import (
	"fmt"
	"math"
	"strings"
)

// Aggregate assembles the final result from engine hits. Text is joined in
// emission order with single spaces; confidence is the mean hit confidence
// rounded to three decimals; word_count is the number of hits (regions, not
// whitespace-separated words). It never panics outward.
func Aggregate(hits []RecognitionHit, imageFormat, imageSize string) (result *ExtractionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FailedResult(fmt.Sprintf("Result aggregation failed: %v", r), imageFormat, imageSize)
		}
	}()

	texts := make([]string, 0, len(hits))
	var sum float64
	for _, hit := range hits {
		texts = append(texts, hit.Text)
		sum += clampFloat(hit.Confidence, 0, 1)
	}

	confidence := 0.0
	if len(hits) > 0 {
		confidence = roundTo(sum/float64(len(hits)), 3)
	}
	if math.IsNaN(confidence) {
		return FailedResult("Result aggregation failed: confidence is not a number", imageFormat, imageSize)
	}
	wordCount := len(hits)

	result = &ExtractionResult{
		Success:    true,
		Text:       strings.TrimSpace(strings.Join(texts, " ")),
		Confidence: &confidence,
		WordCount:  &wordCount,
	}
	stampMetadata(result, imageFormat, imageSize)
	return result
}

// FailedResult builds a failed result. Metadata is stamped when known.
func FailedResult(message, imageFormat, imageSize string) *ExtractionResult {
	if message == "" {
		message = "Extraction failed"
	}
	result := &ExtractionResult{
		Success: false,
		Text:    "",
		Error:   &message,
	}
	stampMetadata(result, imageFormat, imageSize)
	return result
}

func stampMetadata(result *ExtractionResult, imageFormat, imageSize string) {
	if imageFormat != "" {
		f := imageFormat
		result.ImageFormat = &f
	}
	if imageSize != "" {
		s := imageSize
		result.ImageSize = &s
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

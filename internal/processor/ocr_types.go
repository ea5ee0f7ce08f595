/**
 * OCR Types - Shared data structures for the extraction pipeline
 *
 * Common types used by the validator, preprocessor, recognizer and aggregator
 */

package processor

import (
	"context"
	"image"
)

// Engine is the recognition capability the Recognizer drives. Implementations
// need not be safe for concurrent use; the Recognizer serializes every call.
type Engine interface {
	Name() string
	Version() string
	Recognize(ctx context.Context, img image.Image) ([]RecognitionHit, error)
	Close() error
}

// EngineFactory constructs the engine once at startup.
type EngineFactory func() (Engine, error)

// BoundingRegion represents coordinates of a detected text region
type BoundingRegion struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// RecognitionHit is one text region reported by the engine
type RecognitionHit struct {
	Region     BoundingRegion
	Text       string
	Confidence float64 // 0..1
}

// ColorSpace of a decoded buffer
type ColorSpace string

const (
	ColorSpaceRGB       ColorSpace = "RGB"
	ColorSpaceRGBA      ColorSpace = "RGBA"
	ColorSpaceGrayscale ColorSpace = "grayscale"
)

// DecodedImage is the canonical pixel buffer of one request
type DecodedImage struct {
	Image      image.Image
	Width      int
	Height     int
	Channels   int
	Format     string // "PNG", "JPEG"
	ColorSpace ColorSpace
}

// Size renders the original dimensions as WIDTHxHEIGHT.
func (d *DecodedImage) Size() string {
	if d == nil {
		return ""
	}
	return formatSize(d.Width, d.Height)
}

// PreprocessedImage is the buffer handed to the engine. Normalized is false
// when preprocessing degraded to the decoded input.
type PreprocessedImage struct {
	Image      image.Image
	Source     *DecodedImage
	Normalized bool
}

// ExtractionResult is the structured outcome of one extraction
type ExtractionResult struct {
	Success     bool     `json:"success"`
	Text        string   `json:"text"`
	Confidence  *float64 `json:"confidence,omitempty"`
	WordCount   *int     `json:"word_count,omitempty"`
	Error       *string  `json:"error,omitempty"`
	ImageFormat *string  `json:"image_format,omitempty"`
	ImageSize   *string  `json:"image_size,omitempty"`
}

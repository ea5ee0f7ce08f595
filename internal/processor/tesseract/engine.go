/**
 * Tesseract engine - recognition backend built on gosseract
 *
 * One client is created at startup and reused for every call. gosseract
 * clients are not safe for concurrent use; processor.Recognizer serializes
 * access through its single worker.
 */

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"strings"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/draw"

	"github.com/adverant/nexus/ocr-service/internal/logging"
	"github.com/adverant/nexus/ocr-service/internal/processor"
)

const EngineName = "Tesseract"

// Config holds Tesseract configuration
type Config struct {
	// Languages are ISO-639-1 codes ("en") or Tesseract codes ("eng").
	Languages []string
	// UseAccelerator is accepted for configuration parity; Tesseract is CPU-only.
	UseAccelerator bool
	// PageSegMode is the Tesseract PSM (3 = fully automatic).
	PageSegMode int
	// MinHeight upscales images whose shorter side is below this many pixels.
	MinHeight int
}

// Engine implements processor.Engine on a single gosseract client
type Engine struct {
	client    *gosseract.Client
	languages []string
	minHeight int
	logger    *logging.Logger
}

// NewFactory defers construction to processor.Recognizer.Initialize.
func NewFactory(cfg Config) processor.EngineFactory {
	return func() (processor.Engine, error) {
		return New(cfg)
	}
}

// New creates the client, selects languages and runs a warm-up recognition so
// that a missing library or traineddata file fails here rather than on the
// first request.
func New(cfg Config) (*Engine, error) {
	logger := logging.NewLogger("tesseract")

	languages := MapLanguages(cfg.Languages)
	if len(languages) == 0 {
		return nil, fmt.Errorf("no recognition languages configured")
	}

	if cfg.UseAccelerator {
		logger.Warn("Accelerator requested but Tesseract runs on CPU only; ignoring")
	}

	if available, err := gosseract.GetAvailableLanguages(); err == nil && len(available) > 0 {
		if missing := missingLanguages(languages, available); len(missing) > 0 {
			return nil, fmt.Errorf("traineddata not installed for: %s", strings.Join(missing, ", "))
		}
	}

	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	e := &Engine{
		client:    client,
		languages: languages,
		minHeight: cfg.MinHeight,
		logger:    logger,
	}

	if _, err := e.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract warm-up failed: %w", err)
	}

	logger.Info("Tesseract client ready", "version", client.Version(), "languages", strings.Join(languages, "+"))
	return e, nil
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Version() string { return e.client.Version() }

// Recognize reads text lines from img. Boxes are reported in the coordinates
// of img even when the buffer is upscaled for the engine.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]processor.RecognitionHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prepared, scale := upscale(img, e.minHeight)

	var buf bytes.Buffer
	if err := png.Encode(&buf, prepared); err != nil {
		return nil, fmt.Errorf("encode image for engine: %w", err)
	}

	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return hitsFromBoxes(boxes, scale), nil
}

func (e *Engine) Close() error {
	return e.client.Close()
}

// hitsFromBoxes normalizes gosseract output into RecognitionHits, keeping
// engine order. Boxes without text are dropped.
func hitsFromBoxes(boxes []gosseract.BoundingBox, scale float64) []processor.RecognitionHit {
	if scale <= 0 {
		scale = 1
	}
	hits := make([]processor.RecognitionHit, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		hits = append(hits, processor.RecognitionHit{
			Region: processor.BoundingRegion{
				X:      int(float64(b.Box.Min.X) / scale),
				Y:      int(float64(b.Box.Min.Y) / scale),
				Width:  int(float64(b.Box.Dx()) / scale),
				Height: int(float64(b.Box.Dy()) / scale),
			},
			Text:       text,
			Confidence: normalizeConfidence(b.Confidence),
		})
	}
	return hits
}

// normalizeConfidence maps Tesseract's 0..100 scale onto 0..1.
func normalizeConfidence(c float64) float64 {
	c /= 100
	if c < 0 || math.IsNaN(c) {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// upscale enlarges small images so glyphs reach a size Tesseract handles well.
func upscale(img image.Image, minHeight int) (image.Image, float64) {
	b := img.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	if minHeight <= 0 || short <= 0 || short >= minHeight {
		return img, 1
	}

	scale := float64(minHeight) / float64(short)
	w := int(float64(b.Dx())*scale + 0.5)
	h := int(float64(b.Dy())*scale + 0.5)

	var dst draw.Image
	if _, ok := img.(*image.Gray); ok {
		dst = image.NewGray(image.Rect(0, 0, w, h))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst, scale
}

var isoToTesseract = map[string]string{
	"en":     "eng",
	"de":     "deu",
	"fr":     "fra",
	"es":     "spa",
	"it":     "ita",
	"pt":     "por",
	"nl":     "nld",
	"pl":     "pol",
	"ru":     "rus",
	"uk":     "ukr",
	"tr":     "tur",
	"ar":     "ara",
	"hi":     "hin",
	"ja":     "jpn",
	"ko":     "kor",
	"vi":     "vie",
	"zh":     "chi_sim",
	"ch_sim": "chi_sim",
	"ch_tra": "chi_tra",
}

// MapLanguages converts configured language codes to Tesseract codes,
// dropping duplicates and keeping order.
func MapLanguages(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		code = strings.ToLower(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		if mapped, ok := isoToTesseract[code]; ok {
			code = mapped
		}
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

func missingLanguages(want, available []string) []string {
	have := make(map[string]bool, len(available))
	for _, l := range available {
		have[l] = true
	}
	var missing []string
	for _, l := range want {
		if !have[l] {
			missing = append(missing, l)
		}
	}
	return missing
}

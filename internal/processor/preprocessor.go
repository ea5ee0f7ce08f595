package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/adverant/nexus/ocr-service/internal/logging"
)

// ImagePreprocessor decodes uploads and normalizes them for recognition.
// Normalization never fails outward: on any error the decoded image is
// returned untouched.
type ImagePreprocessor struct {
	enhanceContrast bool
	clipLimit       float64
	tiles           int
	logger          *logging.Logger
}

// PreprocessorConfig holds preprocessing options
type PreprocessorConfig struct {
	// EnhanceContrast applies CLAHE after denoising. Off by default.
	EnhanceContrast bool
	ClipLimit       float64
	TileGrid        int
}

// NewImagePreprocessor creates a preprocessor; zero values take the defaults
// (clip limit 2.0, 8x8 tiles, no contrast enhancement).
func NewImagePreprocessor(cfg PreprocessorConfig) *ImagePreprocessor {
	if cfg.ClipLimit <= 0 {
		cfg.ClipLimit = DefaultClipLimit
	}
	if cfg.TileGrid <= 0 {
		cfg.TileGrid = DefaultTileGrid
	}
	return &ImagePreprocessor{
		enhanceContrast: cfg.EnhanceContrast,
		clipLimit:       cfg.ClipLimit,
		tiles:           cfg.TileGrid,
		logger:          logging.NewLogger("preprocessor"),
	}
}

// Preprocess decodes raw bytes into a DecodedImage. Format and size are
// captured from the decoded buffer before any transform.
func (p *ImagePreprocessor) Preprocess(data []byte) (*DecodedImage, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	channels, space := describePixels(img)

	return &DecodedImage{
		Image:      img,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Channels:   channels,
		Format:     strings.ToUpper(format),
		ColorSpace: space,
	}, nil
}

// Normalize converts to grayscale when needed and applies a 3x3 median filter.
func (p *ImagePreprocessor) Normalize(decoded *DecodedImage) (out *PreprocessedImage) {
	fallback := &PreprocessedImage{Source: decoded}
	if decoded != nil {
		fallback.Image = decoded.Image
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Image preprocessing failed", "error", r)
			out = fallback
		}
	}()

	gray, err := toGray(decoded)
	if err != nil {
		p.logger.Warn("Image preprocessing failed", "step", "grayscale", "error", err)
		return fallback
	}

	result := MedianFilter(gray, 1)

	if p.enhanceContrast {
		result = p.EnhanceContrast(result)
	}

	return &PreprocessedImage{
		Image:      result,
		Source:     decoded,
		Normalized: true,
	}
}

// EnhanceContrast runs CLAHE with the configured clip limit and tile grid.
// On failure the input is returned unchanged.
func (p *ImagePreprocessor) EnhanceContrast(gray *image.Gray) (out *image.Gray) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("Contrast enhancement failed", "error", r)
			out = gray
		}
	}()

	enhanced, err := CLAHE(gray, p.clipLimit, p.tiles, p.tiles)
	if err != nil {
		p.logger.Warn("Contrast enhancement failed", "error", err)
		return gray
	}
	return enhanced
}

// toGray returns a single-channel buffer with origin at (0,0).
func toGray(decoded *DecodedImage) (*image.Gray, error) {
	if decoded == nil || decoded.Image == nil {
		return nil, fmt.Errorf("no pixel buffer")
	}

	bounds := decoded.Image.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("empty pixel buffer %v", bounds)
	}

	if g, ok := decoded.Image.(*image.Gray); ok {
		out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		for y := 0; y < bounds.Dy(); y++ {
			copy(out.Pix[y*out.Stride:y*out.Stride+bounds.Dx()], g.Pix[g.PixOffset(bounds.Min.X, bounds.Min.Y+y):])
		}
		return out, nil
	}

	// imaging.Grayscale applies the Rec. 601 luma weights and returns NRGBA with R=G=B.
	lum := imaging.Grayscale(decoded.Image)
	lb := lum.Bounds()
	out := image.NewGray(image.Rect(0, 0, lb.Dx(), lb.Dy()))
	for y := 0; y < lb.Dy(); y++ {
		src := lum.Pix[y*lum.Stride:]
		dst := out.Pix[y*out.Stride:]
		for x := 0; x < lb.Dx(); x++ {
			dst[x] = src[x*4]
		}
	}
	return out, nil
}

// MedianFilter applies a (2r+1)x(2r+1) median with replicated borders.
func MedianFilter(src *image.Gray, radius int) *image.Gray {
	if radius < 1 {
		radius = 1
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))

	size := 2*radius + 1
	window := make([]uint8, size*size)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for ky := -radius; ky <= radius; ky++ {
				sy := clampInt(y+ky, 0, h-1)
				for kx := -radius; kx <= radius; kx++ {
					sx := clampInt(x+kx, 0, w-1)
					window[n] = src.Pix[src.PixOffset(b.Min.X+sx, b.Min.Y+sy)]
					n++
				}
			}
			insertionSort(window)
			dst.Pix[y*dst.Stride+x] = window[len(window)/2]
		}
	}

	return dst
}

// describePixels reports channel count and color space of a decoded buffer.
func describePixels(img image.Image) (int, ColorSpace) {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return 1, ColorSpaceGrayscale
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xFFFF {
				return 4, ColorSpaceRGBA
			}
		}
		return 3, ColorSpaceRGB
	}

	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return 4, ColorSpaceRGBA
	}
	if img.ColorModel() == color.GrayModel || img.ColorModel() == color.Gray16Model {
		return 1, ColorSpaceGrayscale
	}
	return 3, ColorSpaceRGB
}

func insertionSort(a []uint8) {
	for i := 1; i < len(a); i++ {
		v := a[i]
		j := i - 1
		for j >= 0 && a[j] > v {
			a[j+1] = a[j]
			j--
		}
		a[j+1] = v
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func formatSize(w, h int) string {
	return fmt.Sprintf("%dx%d", w, h)
}

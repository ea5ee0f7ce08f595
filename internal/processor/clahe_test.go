package processor

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradient(w, h int, lo, hi uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	span := int(hi) - int(lo)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8(int(lo) + span*x/maxInt(w-1, 1))
		}
	}
	return img
}

func TestCLAHEStretchesLowContrast(t *testing.T) {
	src := gradient(128, 64, 100, 140)
	dst, err := CLAHE(src, 40, DefaultTileGrid, DefaultTileGrid)
	require.NoError(t, err)
	require.Equal(t, src.Bounds(), dst.Bounds())

	lo, hi := uint8(255), uint8(0)
	for _, v := range dst.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	assert.Greater(t, int(hi)-int(lo), 100, "output range should far exceed the 40-level input range")
}

func TestCLAHEPreservesOrderingWithinRow(t *testing.T) {
	src := gradient(64, 8, 0, 255)
	dst, err := CLAHE(src, DefaultClipLimit, 1, 1)
	require.NoError(t, err)

	for x := 1; x < 64; x++ {
		assert.GreaterOrEqual(t, dst.GrayAt(x, 4).Y, dst.GrayAt(x-1, 4).Y)
	}
}

func TestCLAHEHandlesTinyAndOddSizes(t *testing.T) {
	for _, size := range []image.Point{{1, 1}, {3, 2}, {9, 17}, {65, 1}} {
		src := gradient(size.X, size.Y, 10, 200)
		dst, err := CLAHE(src, DefaultClipLimit, DefaultTileGrid, DefaultTileGrid)
		require.NoError(t, err, "size %v", size)
		assert.Equal(t, image.Rect(0, 0, size.X, size.Y), dst.Bounds())
	}
}

func TestCLAHEUniformImageStaysUniform(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range src.Pix {
		src.Pix[i] = 128
	}
	dst, err := CLAHE(src, DefaultClipLimit, 4, 4)
	require.NoError(t, err)

	first := dst.Pix[0]
	for _, v := range dst.Pix {
		assert.Equal(t, first, v)
	}
}

func TestCLAHERejectsBadInput(t *testing.T) {
	_, err := CLAHE(image.NewGray(image.Rect(0, 0, 0, 0)), 2, 8, 8)
	assert.Error(t, err)

	_, err = CLAHE(image.NewGray(image.Rect(0, 0, 4, 4)), 2, 0, 8)
	assert.Error(t, err)
}

func TestEnhanceContrastFallsBackOnFailure(t *testing.T) {
	p := NewImagePreprocessor(PreprocessorConfig{EnhanceContrast: true})
	empty := image.NewGray(image.Rect(0, 0, 0, 0))
	assert.Same(t, empty, p.EnhanceContrast(empty))
}

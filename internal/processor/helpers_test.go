package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// testPattern is an RGB image with a dark bar on a light background.
func testPattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 230, G: 230, B: 230, A: 255}
			if y > h/3 && y < 2*h/3 {
				c = color.RGBA{R: 20, G: 20, B: 20, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

// fakeEngine returns canned hits and counts calls. It records the highest
// number of concurrent Recognize calls it observed.
type fakeEngine struct {
	hits    []RecognitionHit
	err     error
	panicOn bool
	block   chan struct{}

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	closed   atomic.Bool

	mu       sync.Mutex
	lastSize image.Rectangle
}

func (f *fakeEngine) Name() string    { return "Fake" }
func (f *fakeEngine) Version() string { return "0.1" }

func (f *fakeEngine) Recognize(ctx context.Context, img image.Image) ([]RecognitionHit, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	f.mu.Lock()
	f.lastSize = img.Bounds()
	f.mu.Unlock()

	if f.block != nil {
		<-f.block
	}
	if f.panicOn {
		panic("engine exploded")
	}
	return f.hits, f.err
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func readyRecognizer(t *testing.T, engine *fakeEngine) *Recognizer {
	t.Helper()
	r := NewRecognizer("Fake", func() (Engine, error) { return engine, nil }, nil, nil)
	require.NoError(t, r.Initialize())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

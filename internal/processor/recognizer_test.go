package processor

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/observability"
)

func TestRecognizerFailedInitializationIsPermanent(t *testing.T) {
	calls := 0
	r := NewRecognizer("Fake", func() (Engine, error) {
		calls++
		return nil, errors.New("model files missing")
	}, nil, nil)

	err := r.Initialize()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model files missing")
	assert.False(t, r.IsReady())
	assert.Equal(t, "", r.Version())
	assert.Equal(t, "Fake", r.Name())

	assert.Equal(t, err, r.Initialize())
	assert.Equal(t, 1, calls, "construction is never retried")

	_, err = r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	assert.True(t, svcerrors.HasCode(err, svcerrors.ErrorServiceUnavailable))
	assert.NoError(t, r.Close())
}

func TestRecognizerFactoryPanicAndNilEngine(t *testing.T) {
	r := NewRecognizer("Fake", func() (Engine, error) { panic("boom") }, nil, nil)
	assert.Error(t, r.Initialize())
	assert.False(t, r.IsReady())

	r = NewRecognizer("Fake", func() (Engine, error) { return nil, nil }, nil, nil)
	assert.Error(t, r.Initialize())
	assert.False(t, r.IsReady())

	r = NewRecognizer("Fake", nil, nil, nil)
	assert.Error(t, r.Initialize())
}

func TestRecognizerReadyAndRecognizes(t *testing.T) {
	engine := &fakeEngine{hits: []RecognitionHit{{Text: "HELLO", Confidence: 0.9}}}
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	health := NewServiceHealth()

	r := NewRecognizer("Fake", func() (Engine, error) { return engine, nil }, health, metrics)
	require.NoError(t, r.Initialize())
	defer r.Close()

	assert.True(t, r.IsReady())
	assert.True(t, health.IsReady())
	assert.Same(t, health, r.Health())
	assert.Equal(t, "0.1", r.Version())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.EngineReady))

	hits, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Equal(t, engine.hits, hits)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Recognitions.WithLabelValues("ok")))
}

func TestRecognizerSerializesEngineAccess(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	r := readyRecognizer(t, engine)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
			assert.NoError(t, err)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(engine.block)
	wg.Wait()

	assert.Equal(t, int32(callers), engine.calls.Load())
	assert.Equal(t, int32(1), engine.maxSeen.Load())
}

func TestRecognizerStopsWaitingWhenContextEnds(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	r := readyRecognizer(t, engine)
	defer close(engine.block)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := r.Recognize(ctx, image.NewGray(image.Rect(0, 0, 2, 2)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecognizerContainsEnginePanic(t *testing.T) {
	engine := &fakeEngine{panicOn: true}
	r := readyRecognizer(t, engine)

	_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine panicked")
	assert.True(t, r.IsReady())
}

func TestRecognizerCloseReleasesEngine(t *testing.T) {
	engine := &fakeEngine{}
	r := NewRecognizer("Fake", func() (Engine, error) { return engine, nil }, nil, nil)
	require.NoError(t, r.Initialize())

	require.NoError(t, r.Close())
	assert.True(t, engine.closed.Load())
	assert.NoError(t, r.Close())

	_, err := r.Recognize(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	assert.True(t, svcerrors.HasCode(err, svcerrors.ErrorServiceUnavailable))
}

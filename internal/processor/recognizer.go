package processor

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	svcerrors "github.com/adverant/nexus/ocr-service/internal/errors"
	"github.com/adverant/nexus/ocr-service/internal/logging"
	"github.com/adverant/nexus/ocr-service/internal/observability"
)

// Recognizer owns the recognition engine for the lifetime of the process.
// The engine is constructed once by Initialize and driven by a single worker
// goroutine, so callers on any goroutine get serialized access to it.
type Recognizer struct {
	name    string
	factory EngineFactory
	health  *ServiceHealth
	metrics *observability.Metrics
	logger  *logging.Logger

	engine  Engine
	version string

	initOnce  sync.Once
	initErr   error
	closeOnce sync.Once

	jobs chan recognizeJob
	done chan struct{}
	wg   sync.WaitGroup
}

type recognizeJob struct {
	ctx   context.Context
	img   image.Image
	reply chan recognizeReply
}

type recognizeReply struct {
	hits []RecognitionHit
	err  error
}

// NewRecognizer wires the engine factory to the health gate. Nothing is
// constructed until Initialize.
func NewRecognizer(name string, factory EngineFactory, health *ServiceHealth, metrics *observability.Metrics) *Recognizer {
	if health == nil {
		health = NewServiceHealth()
	}
	return &Recognizer{
		name:    name,
		factory: factory,
		health:  health,
		metrics: metrics,
		logger:  logging.NewLogger("recognizer"),
		jobs:    make(chan recognizeJob),
		done:    make(chan struct{}),
	}
}

// Initialize constructs the engine. It runs at most once; a failure leaves
// the recognizer permanently unready and is never retried.
func (r *Recognizer) Initialize() error {
	r.initOnce.Do(func() {
		start := time.Now()
		engine, err := r.build()
		if err != nil {
			r.initErr = err
			r.logger.Error("Failed to initialize recognition engine", "engine", r.name, "error", err)
			r.metrics.SetEngineReady(false)
			return
		}

		r.engine = engine
		r.version = engine.Version()
		r.wg.Add(1)
		go r.worker()

		r.health.MarkReady()
		r.metrics.SetEngineReady(true)
		r.logger.Info("Recognition engine initialized successfully",
			"engine", r.name, "version", r.version, "duration", time.Since(start))
	})
	return r.initErr
}

func (r *Recognizer) build() (engine Engine, err error) {
	defer func() {
		if p := recover(); p != nil {
			engine, err = nil, fmt.Errorf("engine construction panicked: %v", p)
		}
	}()
	if r.factory == nil {
		return nil, fmt.Errorf("no engine factory configured")
	}
	engine, err = r.factory()
	if err == nil && engine == nil {
		err = fmt.Errorf("engine factory returned no engine")
	}
	return engine, err
}

// IsReady is the cheap readiness probe.
func (r *Recognizer) IsReady() bool {
	return r.health.IsReady()
}

// Health exposes the gate shared with the HTTP layer.
func (r *Recognizer) Health() *ServiceHealth {
	return r.health
}

// Name is the configured engine name, available before initialization.
func (r *Recognizer) Name() string {
	return r.name
}

// Version is empty until the engine initializes.
func (r *Recognizer) Version() string {
	return r.version
}

// Recognize runs the engine on img. It blocks until the worker has finished
// the call or ctx is done; a call already handed to the engine still runs to
// completion on the worker.
func (r *Recognizer) Recognize(ctx context.Context, img image.Image) ([]RecognitionHit, error) {
	if !r.IsReady() {
		return nil, svcerrors.NewServiceUnavailableError(r.name)
	}

	job := recognizeJob{ctx: ctx, img: img, reply: make(chan recognizeReply, 1)}

	select {
	case r.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return nil, svcerrors.NewServiceUnavailableError(r.name)
	}

	select {
	case rep := <-job.reply:
		return rep.hits, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Recognizer) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case job := <-r.jobs:
			if err := job.ctx.Err(); err != nil {
				job.reply <- recognizeReply{err: err}
				continue
			}
			start := time.Now()
			hits, err := r.run(job)
			r.metrics.ObserveRecognition(time.Since(start), err)
			job.reply <- recognizeReply{hits: hits, err: err}
		}
	}
}

func (r *Recognizer) run(job recognizeJob) (hits []RecognitionHit, err error) {
	defer func() {
		if p := recover(); p != nil {
			hits, err = nil, fmt.Errorf("engine panicked: %v", p)
		}
	}()
	return r.engine.Recognize(job.ctx, job.img)
}

// Close stops the worker and releases the engine.
func (r *Recognizer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		if r.engine != nil {
			err = r.engine.Close()
		}
	})
	return err
}

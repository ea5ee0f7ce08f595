/**
 * HTTP boundary for the OCR service
 *
 * Routes (under the configured API prefix):
 * - GET  /health      engine readiness, always 200
 * - GET  /docs        route listing
 * - POST /predict     synchronous extraction of one multipart "image" upload
 * - POST /jobs        asynchronous extraction through the Redis job queue
 * - GET  /jobs/stats  job counts per status
 * - GET  /jobs/{id}   job status and result
 *
 * GET / (service summary) is served both at the root and under the prefix;
 * GET /metrics (Prometheus) only at the root.
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/hibiken/asynq"
	"github.com/justinas/alice"

	"github.com/adverant/nexus/ocr-service/internal/config"
	"github.com/adverant/nexus/ocr-service/internal/logging"
	"github.com/adverant/nexus/ocr-service/internal/observability"
	"github.com/adverant/nexus/ocr-service/internal/processor"
	"github.com/adverant/nexus/ocr-service/internal/queue"
	"github.com/adverant/nexus/ocr-service/internal/storage"
)

// multipart framing allowance on top of the upload limit
const formOverhead = 1 << 20

// Backend is the extraction pipeline as seen by the HTTP layer.
type Backend interface {
	processor.ExtractorInterface
	EngineName() string
	EngineVersion() string
	Health() *processor.ServiceHealth
	Validator() *processor.ImageValidator
}

// Enqueuer submits asynchronous extraction jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload *queue.JobPayload) (*asynq.TaskInfo, error)
}

// Options holds server collaborators. Jobs and Queue are optional; without
// both the /jobs endpoints answer 503.
type Options struct {
	Config  *config.Config
	Backend Backend
	Jobs    storage.JobStore
	Queue   Enqueuer
	Metrics *observability.Metrics
}

// Server serves the OCR API
type Server struct {
	cfg       *config.Config
	backend   Backend
	jobs      storage.JobStore
	queue     Enqueuer
	metrics   *observability.Metrics
	logger    *logging.Logger
	startedAt time.Time
	router    *mux.Router
	handler   http.Handler
}

// New builds the router and middleware chain
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}

	s := &Server{
		cfg:       opts.Config,
		backend:   opts.Backend,
		jobs:      opts.Jobs,
		queue:     opts.Queue,
		metrics:   opts.Metrics,
		logger:    logging.NewLogger("http"),
		startedAt: time.Now(),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not Found", "")
	})

	chain := alice.New(s.requestID, s.recoverer, s.accessLog)
	r.Use(chain.Then)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(s.cfg.APIPrefix).Subrouter()
	api.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/docs", s.handleDocs).Methods(http.MethodGet)
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleSubmitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/stats", s.handleJobStats).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	s.router = r

	return handlers.CORS(
		s.originPolicy(),
		handlers.AllowCredentials(),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-Id"}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)(r)
}

// originPolicy echoes the request origin when "*" is configured; a literal
// "*" is not valid alongside credentials.
func (s *Server) originPolicy() handlers.CORSOption {
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			return handlers.AllowedOriginValidator(func(string) bool { return true })
		}
	}
	return handlers.AllowedOrigins(s.cfg.AllowedOrigins)
}

// Handler returns the root handler, CORS included
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads are bounded by MaxUploadSize; recognition by the processing timeout.
		WriteTimeout: s.cfg.Timeout() + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", srv.Addr, "prefix", s.cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

/**
 * OCR Service - Main Entry Point
 *
 * Serves synchronous text extraction over HTTP and, when REDIS_URL is set,
 * processes asynchronous extraction jobs from the Redis queue in-process.
 *
 * A recognition engine that fails to initialize does not stop the process:
 * the service starts, reports unhealthy and answers 503 on extraction.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/ocr-service/internal/config"
	"github.com/adverant/nexus/ocr-service/internal/logging"
	"github.com/adverant/nexus/ocr-service/internal/observability"
	"github.com/adverant/nexus/ocr-service/internal/processor"
	"github.com/adverant/nexus/ocr-service/internal/processor/tesseract"
	"github.com/adverant/nexus/ocr-service/internal/queue"
	"github.com/adverant/nexus/ocr-service/internal/server"
	"github.com/adverant/nexus/ocr-service/internal/storage"
)

func main() {
	log := logging.NewLogger("main")

	// Load environment variables
	if err := godotenv.Load(".env"); err != nil {
		log.Warn(".env not found, using system environment variables")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.LogLevel)
	logging.SetJSON(cfg.LogJSON)

	log.Info("OCR service starting",
		"version", cfg.AppVersion,
		"addr", cfg.Addr(),
		"languages", cfg.OCRLanguages,
		"async_jobs", cfg.AsyncJobsEnabled())

	if err := run(cfg, log); err != nil {
		log.Error("OCR service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log *logging.Logger) error {
	metrics := observability.Default()

	if cfg.OCRUseAccelerator {
		log.Warn("OCR_USE_ACCELERATOR is set but the Tesseract engine runs on CPU only")
	}

	// Initialize recognition engine (failure leaves the service unavailable, never fatal)
	recognizer := processor.NewRecognizer(tesseract.EngineName, tesseract.NewFactory(tesseract.Config{
		Languages:      cfg.OCRLanguages,
		UseAccelerator: cfg.OCRUseAccelerator,
		PageSegMode:    cfg.OCRPageSegMode,
		MinHeight:      cfg.OCRMinHeight,
	}), nil, metrics)
	if err := recognizer.Initialize(); err != nil {
		log.Error("Recognition engine unavailable, predict will answer 503", "error", err)
	}
	defer recognizer.Close()

	ocr, err := processor.NewOCRService(&processor.ServiceConfig{
		Validator: processor.NewImageValidator(cfg.MaxUploadSize, cfg.AcceptedImageTypes),
		Preprocessor: processor.NewImagePreprocessor(processor.PreprocessorConfig{
			EnhanceContrast: cfg.EnhanceContrast,
		}),
		Recognizer: recognizer,
	})
	if err != nil {
		return err
	}

	opts := server.Options{
		Config:  cfg,
		Backend: ocr,
		Metrics: metrics,
	}

	var consumer *queue.Consumer
	if cfg.AsyncJobsEnabled() {
		// Initialize job storage (Redis, plus PostgreSQL history when configured)
		storageManager, err := storage.NewStorageManager(&storage.ManagerConfig{
			RedisURL:    cfg.RedisURL,
			Prefix:      cfg.JobQueue,
			TTL:         cfg.ResultTTL(),
			DatabaseURL: cfg.DatabaseURL,
		})
		if err != nil {
			return err
		}
		defer storageManager.Close()
		log.Info("Job storage initialized", "history", storageManager.HasHistory())

		producer, err := queue.NewProducer(cfg.RedisURL, cfg.JobQueue, cfg.Timeout())
		if err != nil {
			return err
		}
		defer producer.Close()

		consumer, err = queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.JobQueue,
			Concurrency:       cfg.WorkerConcurrency,
			Extractor:         ocr,
			Store:             storageManager,
			Metrics:           metrics,
			ProcessingTimeout: int64(cfg.ProcessingTimeout),
			EngineName:        ocr.EngineName(),
		})
		if err != nil {
			return err
		}

		opts.Jobs = storageManager
		opts.Queue = producer
	}

	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	if consumer != nil {
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	}

	log.Info("OCR service is ready", "engine", ocr.EngineName(), "engine_ready", ocr.IsReady())
	return g.Wait()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subvox/subvox/internal/cache"
	"github.com/subvox/subvox/internal/config"
	"github.com/subvox/subvox/internal/database"
	"github.com/subvox/subvox/internal/logging"
	"github.com/subvox/subvox/internal/media"
	"github.com/subvox/subvox/internal/pipeline"
	"github.com/subvox/subvox/internal/queue"
	"github.com/subvox/subvox/internal/storage"
	"github.com/subvox/subvox/internal/tracing"
	"github.com/subvox/subvox/internal/transcribe"
	"github.com/subvox/subvox/internal/translate"
	"github.com/subvox/subvox/internal/vad"
	"github.com/subvox/subvox/internal/worker"
	"github.com/subvox/subvox/pkg/models"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize storage
	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Initialize cache
	c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.CacheTTL)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer c.Close()

	// Wire the pipeline stages
	extractor := media.NewExtractor(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)
	detector := vad.NewDetector(cfg.Pipeline.VADEndpoint)
	transcriber := transcribe.NewTranscriber(cfg.Pipeline.WhisperEndpoint, cfg.Pipeline.TranscribeConcurrency)
	translator := translate.NewClient(cfg.Translator.BaseURL, cfg.Translator.APIKey, cfg.Translator.Model, cfg.Translator.Timeout)

	orchestrator := pipeline.NewOrchestrator(
		extractor,
		detector,
		transcriber,
		translator,
		cfg.Translator.TargetLanguage,
		cfg.Pipeline.TempDir,
		cfg.Pipeline.StageTimeout,
		logger,
	)

	runner := worker.NewRunner(repo, stor, orchestrator, c, cfg.Pipeline.TempDir, logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	handler := func(task *models.ProcessTask, attempt int) error {
		return runner.Handle(ctx, task, attempt)
	}

	// Start consuming tasks
	logger.Info("Worker started, waiting for tasks...")
	if err := q.ConsumeTasks(ctx, handler); err != nil {
		logger.Fatalf("Failed to consume tasks: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}

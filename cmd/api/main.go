package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/subvox/subvox/internal/cache"
	"github.com/subvox/subvox/internal/config"
	"github.com/subvox/subvox/internal/database"
	"github.com/subvox/subvox/internal/logging"
	"github.com/subvox/subvox/internal/media"
	"github.com/subvox/subvox/internal/middleware"
	"github.com/subvox/subvox/internal/queue"
	"github.com/subvox/subvox/internal/storage"
	"github.com/subvox/subvox/internal/tracing"
	"github.com/subvox/subvox/internal/translate"
)

type API struct {
	repo       VideoStore
	storage    ObjectStore
	queue      TaskQueue
	cache      StatusCache
	prober     DurationProber
	translator translate.SentenceTranslator
	targetLang string
	tempDir    string
	logger     *logging.Logger
}

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

	api := &API{
		repo:       repo,
		storage:    stor,
		queue:      q,
		cache:      c,
		prober:     media.NewExtractor(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath),
		translator: translate.NewClient(cfg.Translator.BaseURL, cfg.Translator.APIKey, cfg.Translator.Model, cfg.Translator.Timeout),
		targetLang: cfg.Translator.TargetLanguage,
		tempDir:    cfg.Pipeline.TempDir,
		logger:     logger,
	}

	router := setupRouter(api, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, cfg *config.Config, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	router.Use(middleware.RateLimit(limiter))

	router.GET("/health", api.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		// Videos
		v1.POST("/videos/upload", api.uploadVideo)
		v1.GET("/videos/:id/status", api.getVideoStatus)
		v1.GET("/videos/:id/subtitles", api.listSubtitles)
		v1.GET("/videos/:id/export", api.exportSubtitles)
		v1.POST("/videos/:id/subtitles", api.createSubtitle)
		v1.DELETE("/videos/:id", api.deleteVideo)

		// Subtitles
		v1.PUT("/subtitles/:id", api.updateSubtitle)
		v1.DELETE("/subtitles/:id", api.deleteSubtitle)
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

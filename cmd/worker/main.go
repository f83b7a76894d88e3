package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/monitorhub/monitorhub/internal/config"
	"github.com/monitorhub/monitorhub/internal/database"
	"github.com/monitorhub/monitorhub/internal/evaluation"
	"github.com/monitorhub/monitorhub/internal/logger"
	"github.com/monitorhub/monitorhub/internal/queue"
	"github.com/monitorhub/monitorhub/internal/ratelimit"
	"github.com/monitorhub/monitorhub/internal/services/extraction"
	"github.com/monitorhub/monitorhub/internal/services/notify"
	"github.com/monitorhub/monitorhub/internal/services/scrape"
	"github.com/monitorhub/monitorhub/internal/workers"
)

func main() {
	// Parse command-line flags
	debugFlag := flag.Bool("debug", false, "Enable debug mode for LLM API logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if flag is set
	debugMode := cfg.WorkerDebugMode || *debugFlag

	// Initialize logger
	zapLogger, err := logger.NewProductionLogger(debugMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		if syncErr := zapLogger.Sync(); syncErr != nil {
			// Ignore sync errors in production
			_ = syncErr
		}
	}()

	zapLogger.Info("Starting worker",
		zap.Bool("debug_mode", debugMode),
		zap.String("extraction_provider", cfg.ExtractionProvider),
		zap.String("extraction_model", cfg.ExtractionModel),
		zap.Duration("scheduler_interval", cfg.SchedulerInterval),
	)

	// Initialize database connection
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			zapLogger.Warn("Failed to close database connection", zap.Error(err))
		}
	}()

	zapLogger.Info("Connected to database")

	// Initialize repositories
	monitorRepo := database.NewMonitorRepository(db)
	evalRepo := database.NewEvaluationRepository(db)

	// Evaluation trigger policy backed by the configured counter store.
	// The worker shares the counter store with the API server so manual and
	// scheduled runs draw from the same budgets.
	var counterStore ratelimit.Store
	var memStore *ratelimit.MemoryStore
	if cfg.RateLimitStore == "memory" {
		memStore = ratelimit.NewMemoryStore()
		counterStore = memStore
		zapLogger.Warn("using_memory_counter_store_budgets_not_shared_with_server")
	} else {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			zapLogger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				zapLogger.Warn("Failed to close Redis connection", zap.Error(err))
			}
		}()
		counterStore = ratelimit.NewRedisStore(redisClient)
		zapLogger.Info("Connected to Redis")
	}
	limiter := ratelimit.NewLimiter(counterStore)
	triggers := evaluation.NewTriggerPolicy(limiter, cfg.ManualEvalLimit, cfg.ManualEvalWindow, cfg.RefreshInterval)

	// Initialize RabbitMQ queue
	jobQueue, err := queue.NewRabbitMQQueue(cfg.RabbitMQURL)
	if err != nil {
		zapLogger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer func() {
		if err := jobQueue.Close(); err != nil {
			zapLogger.Warn("Failed to close RabbitMQ connection", zap.Error(err))
		}
	}()

	zapLogger.Info("Connected to RabbitMQ",
		zap.Int("prefetch", cfg.RabbitMQPrefetch),
	)

	// Create extraction provider with logger
	var extractor extraction.Extractor
	if cfg.ExtractionProvider == "" || cfg.ExtractionProvider == "openai" {
		extractor = extraction.NewOpenAIExtractor(
			cfg.OpenAIKey,
			cfg.ExtractionBaseURL,
			cfg.ExtractionModel,
			zapLogger,
			debugMode,
		)
	} else {
		zapLogger.Fatal("Unsupported extraction provider", zap.String("provider", cfg.ExtractionProvider))
	}

	zapLogger.Info("Initialized extraction provider",
		zap.String("provider", cfg.ExtractionProvider),
		zap.String("model", cfg.ExtractionModel),
	)

	// Alert delivery
	var notifier notify.Notifier
	if cfg.SMTPHost != "" {
		notifier = notify.NewEmailNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	} else {
		notifier = notify.NewLogNotifier(zapLogger)
		zapLogger.Warn("SMTP not configured, alerts will only be logged")
	}

	// Create evaluation orchestrator
	evaluator := workers.NewEvaluator(
		monitorRepo,
		evalRepo,
		triggers,
		scrape.NewHTTPScraper(cfg.ScrapeTimeout),
		extractor,
		notifier,
		jobQueue,
		zapLogger,
	)
	evaluator.SetExtractionTimeout(cfg.ExtractionTimeout)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Evict elapsed counter windows so the in-memory store doesn't grow
	// one entry per user and per monitor forever
	if memStore != nil {
		go memStore.StartSweeper(ctx, time.Minute)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start consuming messages
	msgChan, errChan, err := jobQueue.Consume(ctx, cfg.RabbitMQPrefetch)
	if err != nil {
		zapLogger.Fatal("Failed to start consuming messages", zap.Error(err))
	}

	zapLogger.Info("Worker started, consuming messages from queue")

	// Process messages
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgChan:
				if !ok {
					zapLogger.Info("Message channel closed")
					return
				}

				// Process job
				if err := evaluator.ProcessJob(ctx, msg); err != nil {
					zapLogger.Error("Failed to process job",
						zap.Error(err),
						zap.String("job_id", msg.GetJob().ID.String()),
						zap.String("job_type", string(msg.GetJob().Type)),
					)
				}
			}
		}
	}()

	// Handle errors
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errChan:
				if !ok {
					return
				}
				zapLogger.Error("Queue error", zap.Error(err))
			}
		}
	}()

	// Enqueue evaluation jobs for monitors whose next scheduled run is due
	scheduler := workers.NewScheduler(jobQueue, monitorRepo, cfg.SchedulerInterval, zapLogger)
	go func() {
		if err := scheduler.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("Scheduler stopped with error", zap.Error(err))
		}
	}()

	// Sweep expired messages out of the dead letter queue
	dlqGC := queue.NewGarbageCollector(jobQueue, cfg.DLQSweepInterval, cfg.DLQRetention, zapLogger)
	go func() {
		if err := dlqGC.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("DLQ garbage collector stopped with error", zap.Error(err))
		}
	}()
	zapLogger.Info("Started DLQ garbage collector",
		zap.Duration("interval", cfg.DLQSweepInterval),
		zap.Duration("retention", cfg.DLQRetention),
	)

	// Wait for shutdown signal
	<-sigChan
	zapLogger.Info("Shutdown signal received, stopping worker...")

	// Cancel context to stop processing
	cancel()

	zapLogger.Info("Worker stopped")
}

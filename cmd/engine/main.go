package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"offer-eligibility-engine/internal/alerts"
	"offer-eligibility-engine/internal/api"
	"offer-eligibility-engine/internal/circuitbreaker"
	"offer-eligibility-engine/internal/config"
	"offer-eligibility-engine/internal/db"
	"offer-eligibility-engine/internal/eligibility"
	"offer-eligibility-engine/internal/metrics"
	"offer-eligibility-engine/internal/observ"
	"offer-eligibility-engine/internal/offers"
	"offer-eligibility-engine/internal/redis"
	"offer-eligibility-engine/internal/sns"
	"offer-eligibility-engine/internal/sqs"
	"offer-eligibility-engine/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting eligibility engine",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("background_jobs", cfg.EnableBackgroundJobs),
		zap.Bool("query_cache", cfg.EnableQueryCache),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	// Repositories
	offersRepo := db.NewOffersRepository(database, logger)
	rowsRepo := db.NewEligibilityRepository(database, logger)
	customersRepo := db.NewCustomersRepository(database, logger)
	queueRepo := db.NewQueueRepository(database, logger)
	logsRepo := db.NewLogsRepository(database, logger)

	// Redis for the query cache and rate limiting
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, query cache and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var queryCache *redis.QueryCache
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		if cfg.EnableQueryCache {
			queryCache = redis.NewQueryCache(redisClient, 5*time.Minute, logger)
		}
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per user
		})
		defer redisClient.Close()
	}

	// SNS events behind a circuit breaker; nil when no topic configured
	var events eligibility.EventPublisher
	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, cfg.SNSTopicARN)
		if err != nil {
			logger.Warn("sns publisher unavailable, events disabled", zap.Error(err))
		} else {
			breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger)
			events = circuitbreaker.NewProtectedPublisher(publisher, breaker, logger)
		}
	}

	// SES budget alerts; nil when no recipient configured
	var alertSender eligibility.AlertSender
	if cfg.SESAlertEmail != "" {
		sender, err := alerts.NewSESSender(ctx, alerts.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			ToEmail:   cfg.SESAlertEmail,
		}, logger)
		if err != nil {
			logger.Warn("ses sender unavailable, budget alerts disabled", zap.Error(err))
		} else {
			alertSender = sender
		}
	}

	// Job transport: SQS when configured, in-process channel otherwise
	var transport eligibility.Transport
	var source worker.Source
	if cfg.SQSQueueURL != "" {
		sqsTransport, err := sqs.NewTransport(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs transport: %w", err)
		}
		defer sqsTransport.Close()
		transport = sqsTransport
		source = sqsTransport
	} else {
		local := eligibility.NewLocalTransport(1024)
		transport = local
		source = local
	}

	// Eligibility core
	resolver := eligibility.NewResolver(customersRepo, logger)
	materializer := eligibility.NewMaterializer(offersRepo, rowsRepo, logsRepo, resolver, events, logger)
	queue := eligibility.NewQueue(queueRepo, offersRepo, rowsRepo, materializer, transport, logger)

	// Worker pool
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	pool := worker.New(source, queue.Process, cfg.WorkerCount, logger)
	pool.Start(workerCtx)

	// Scheduler
	if cfg.EnableBackgroundJobs {
		scheduler := eligibility.NewScheduler(queue, offersRepo, rowsRepo, queueRepo, logsRepo, alertSender, logger)
		scheduler.Start(workerCtx)
		defer scheduler.Stop()
	} else {
		logger.Info("background jobs disabled")
	}

	// Read service
	offersSvc := offers.NewService(rowsRepo, offersRepo, queryCache, logger)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, offersSvc, queue, queueRepo, database)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))

		r.Get("/offers", handler.GetOffers)
		r.Get("/loyalty-programs", handler.GetLoyaltyPrograms)

		// Change hooks from collaborating services
		r.Post("/hooks/offers", handler.OfferChanged)
		r.Post("/hooks/merchants", handler.MerchantChanged)
		r.Post("/hooks/customer-types", handler.CustomerTypeChanged)

		// Queue introspection
		r.Get("/queue", handler.ListQueue)
		r.Post("/queue/drain", handler.TriggerDrain)
		r.Post("/users/{userID}/cache/invalidate", handler.InvalidateUserCache)
	})

	// Health check
	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		workerCancel()
		pool.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}

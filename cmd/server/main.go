package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/config"
	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/handler"
	"github.com/modeltrainer/api/internal/health"
	"github.com/modeltrainer/api/internal/middleware"
	"github.com/modeltrainer/api/internal/observability"
	"github.com/modeltrainer/api/internal/queue"
	"github.com/modeltrainer/api/internal/registry"
	"github.com/modeltrainer/api/internal/relay"
	"github.com/modeltrainer/api/internal/service"
	"github.com/modeltrainer/api/internal/trainer"
	ws "github.com/modeltrainer/api/internal/websocket"
	"github.com/modeltrainer/api/internal/worker"
	"github.com/modeltrainer/api/pkg/backoff"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisOpts, err := cfg.Redis.Options()
	if err != nil {
		log.Fatalf("Failed to configure Redis: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client and inspector
	asynqOpt := worker.RedisConnOpt(redisOpts)
	asynqClient := asynq.NewClient(asynqOpt)
	inspector := asynq.NewInspector(asynqOpt)

	// Metrics (optional)
	var metrics *observability.Metrics
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metrics, metricsHandler, err = observability.NewMetrics(ctx)
		if err != nil {
			log.Printf("Warning: metrics not initialized: %v", err)
			metrics, metricsHandler = nil, nil
		}
	}

	// Core components
	reg := registry.New(redisClient, cfg.Jobs.RecordTTL)
	bus := eventbus.NewRedisBus(redisClient, cfg.Events.Channel, metrics)
	dispatcher := queue.NewDispatcher(asynqClient, inspector, queue.Options{
		Queue:       cfg.Jobs.Queue,
		MaxRetry:    cfg.Jobs.MaxRetry,
		Retention:   cfg.Jobs.Retention,
		MaxDuration: cfg.Jobs.MaxDuration,
	})
	trainingService := service.NewTrainingService(reg, dispatcher, bus, metrics)

	// Initialize WebSocket hub and the relay feeding it
	hub := ws.NewHub(ws.Options{
		SendBuffer:   cfg.Push.SendBuffer,
		WriteTimeout: cfg.Push.WriteTimeout,
		PingInterval: cfg.Push.PingInterval,
	}, metrics)

	listener := relay.NewListener(bus, hub, relay.Config{
		Backoff: backoff.Config{
			Initial: cfg.Relay.BackoffInitial,
			Max:     cfg.Relay.BackoffMax,
			Jitter:  cfg.Relay.BackoffJitter,
		},
		FailureThreshold: cfg.Relay.FailureThreshold,
	}, metrics)
	relayCtx, stopRelay := context.WithCancel(ctx)
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		listener.Run(relayCtx)
	}()

	checker := health.NewChecker().
		Require("redis", health.ReadyFunc(reg.Ping)).
		Watch("relay", listener)
	log.Printf("Readiness checks: %v", checker.Names())

	// Start embedded Asynq worker server
	var workerServer *asynq.Server
	if cfg.Worker.Embedded {
		workerServer = startWorkerServer(cfg, asynqOpt, reg, bus, metrics)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORS.AllowedOrigins, ","),
		AllowCredentials: !slices.Contains(cfg.CORS.AllowedOrigins, "*"),
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization",
	}))
	if metrics != nil {
		app.Use(middleware.Metrics(metrics))
	}

	routes := &handler.Routes{
		Training:   handler.NewTrainingHandler(trainingService, handler.NewValidator()),
		Health:     handler.NewHealthHandler(checker),
		Push:       handler.NewPushHandler(hub),
		TrainLimit: middleware.NewRateLimiter(redisClient).TrainLimit(cfg.RateLimit.TrainPerMin),
		Metrics:    metricsHandler,
	}
	if cfg.Auth.Enabled {
		log.Println("Info: bearer token auth enabled")
		routes.Auth = middleware.NewAuthMiddleware(cfg.Auth.JWTSecret).Authenticate()
	}
	routes.Mount(app)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		checker.SetShuttingDown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	stopRelay()
	<-relayDone
	if workerServer != nil {
		workerServer.Shutdown()
	}
	asynqClient.Close()
	inspector.Close()
	redisClient.Close()
	log.Println("Server stopped")
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisConnOpt,
	reg *registry.Registry,
	bus eventbus.Publisher,
	metrics *observability.Metrics,
) *asynq.Server {
	tr := trainer.NewSimulated(cfg.Trainer.EpochDelay)
	trainingWorker := worker.NewTrainingWorker(reg, bus, tr, cfg.Worker.CancelGrace, metrics)

	srv := worker.NewServer(redisOpt, worker.ServerConfig{
		Queue:       cfg.Jobs.Queue,
		Concurrency: cfg.Worker.Concurrency,
		CancelGrace: cfg.Worker.CancelGrace,
		LogLevel:    cfg.Server.LogLevel,
	})

	if err := srv.Start(worker.NewServeMux(trainingWorker)); err != nil {
		log.Printf("Asynq worker error: %v", err)
		return nil
	}
	log.Printf("Embedded worker started (concurrency=%d)", cfg.Worker.Concurrency)
	return srv
}

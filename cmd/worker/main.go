package main

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/config"
	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/observability"
	"github.com/modeltrainer/api/internal/registry"
	"github.com/modeltrainer/api/internal/trainer"
	"github.com/modeltrainer/api/internal/worker"
)

// The standalone worker runs training tasks without serving HTTP. Run it
// with WORKER_EMBEDDED=false on the API servers to scale the two apart.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisOpts, err := cfg.Redis.Options()
	if err != nil {
		log.Fatalf("Failed to configure Redis: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Metrics are recorded but not exposed; the worker has no HTTP listener
	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		if metrics, _, err = observability.NewMetrics(context.Background()); err != nil {
			log.Printf("Warning: metrics not initialized: %v", err)
			metrics = nil
		}
	}

	reg := registry.New(redisClient, cfg.Jobs.RecordTTL)
	bus := eventbus.NewRedisBus(redisClient, cfg.Events.Channel, metrics)
	tr := trainer.NewSimulated(cfg.Trainer.EpochDelay)
	trainingWorker := worker.NewTrainingWorker(reg, bus, tr, cfg.Worker.CancelGrace, metrics)

	srv := worker.NewServer(worker.RedisConnOpt(redisOpts), worker.ServerConfig{
		Queue:       cfg.Jobs.Queue,
		Concurrency: cfg.Worker.Concurrency,
		CancelGrace: cfg.Worker.CancelGrace,
		LogLevel:    cfg.Server.LogLevel,
	})

	log.Printf("Worker starting (queue=%s, concurrency=%d)", cfg.Jobs.Queue, cfg.Worker.Concurrency)
	// Run blocks until SIGINT or SIGTERM
	if err := srv.Run(worker.NewServeMux(trainingWorker)); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
}

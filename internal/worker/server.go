package worker

import (
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/modeltrainer/api/internal/queue"
)

// ServerConfig sizes the asynq worker pool
type ServerConfig struct {
	Queue       string
	Concurrency int
	CancelGrace time.Duration
	LogLevel    string
}

// RedisConnOpt converts go-redis options into asynq connection options
func RedisConnOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
}

// NewServer creates the asynq server for training tasks
func NewServer(redisOpt asynq.RedisConnOpt, cfg ServerConfig) *asynq.Server {
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			cfg.Queue: 1,
		},
		// leave room for the trainer grace period before asynq gives up
		ShutdownTimeout: cfg.CancelGrace + 5*time.Second,
		LogLevel:        LogLevel(cfg.LogLevel),
	})
}

// NewServeMux routes training tasks to w
func NewServeMux(w *TrainingWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeTrain, w.ProcessTask)
	return mux
}

// LogLevel maps the server log level onto asynq's
func LogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Events    EventsConfig
	Jobs      JobsConfig
	Worker    WorkerConfig
	Trainer   TrainerConfig
	Relay     RelayConfig
	Push      PushConfig
	RateLimit RateLimitConfig
	Auth      AuthConfig
	Metrics   MetricsConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	URL      string // takes precedence over Addr/Password/DB when set
	Addr     string
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type EventsConfig struct {
	Channel string
}

type JobsConfig struct {
	Queue       string
	MaxDuration time.Duration // 0 disables automatic revoke
	MaxRetry    int
	Retention   time.Duration
	RecordTTL   time.Duration
}

type WorkerConfig struct {
	Embedded    bool
	Concurrency int
	CancelGrace time.Duration
}

type TrainerConfig struct {
	EpochDelay time.Duration
}

type RelayConfig struct {
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
	BackoffJitter    float64
	FailureThreshold int
}

type PushConfig struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

type RateLimitConfig struct {
	TrainPerMin int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("redis.url", "REDIS_URL")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	_ = v.BindEnv("events.channel", "EVENTS_CHANNEL")
	_ = v.BindEnv("jobs.queue", "JOBS_QUEUE")
	_ = v.BindEnv("jobs.max_duration", "JOBS_MAX_DURATION")
	_ = v.BindEnv("jobs.max_retry", "JOBS_MAX_RETRY")
	_ = v.BindEnv("jobs.retention", "JOBS_RETENTION")
	_ = v.BindEnv("jobs.record_ttl", "JOBS_RECORD_TTL")
	_ = v.BindEnv("worker.embedded", "WORKER_EMBEDDED")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("worker.cancel_grace", "WORKER_CANCEL_GRACE")
	_ = v.BindEnv("trainer.epoch_delay", "TRAINER_EPOCH_DELAY")
	_ = v.BindEnv("relay.backoff_initial", "RELAY_BACKOFF_INITIAL")
	_ = v.BindEnv("relay.backoff_max", "RELAY_BACKOFF_MAX")
	_ = v.BindEnv("relay.backoff_jitter", "RELAY_BACKOFF_JITTER")
	_ = v.BindEnv("relay.failure_threshold", "RELAY_FAILURE_THRESHOLD")
	_ = v.BindEnv("push.send_buffer", "PUSH_SEND_BUFFER")
	_ = v.BindEnv("push.write_timeout", "PUSH_WRITE_TIMEOUT")
	_ = v.BindEnv("push.ping_interval", "PUSH_PING_INTERVAL")
	_ = v.BindEnv("ratelimit.train_per_min", "RATELIMIT_TRAIN_PER_MIN")
	_ = v.BindEnv("auth.enabled", "AUTH_ENABLED")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("metrics.enabled", "METRICS_ENABLED")

	// Defaults
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cors.allowed_origins", "http://localhost:5173")
	v.SetDefault("events.channel", "model_updates")

	// Job defaults
	v.SetDefault("jobs.queue", "training")
	v.SetDefault("jobs.max_duration", "0s")
	v.SetDefault("jobs.max_retry", 0)
	v.SetDefault("jobs.retention", "24h")
	v.SetDefault("jobs.record_ttl", "24h")

	// Worker defaults
	v.SetDefault("worker.embedded", true)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.cancel_grace", "5s")
	v.SetDefault("trainer.epoch_delay", "1s")

	// Relay defaults
	v.SetDefault("relay.backoff_initial", "100ms")
	v.SetDefault("relay.backoff_max", "30s")
	v.SetDefault("relay.backoff_jitter", 0.2)
	v.SetDefault("relay.failure_threshold", 5)

	// Push defaults
	v.SetDefault("push.send_buffer", 256)
	v.SetDefault("push.write_timeout", "10s")
	v.SetDefault("push.ping_interval", "30s")

	v.SetDefault("ratelimit.train_per_min", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("metrics.enabled", true)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			URL:      v.GetString("redis.url"),
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(v.GetStringSlice("cors.allowed_origins")),
		},
		Events: EventsConfig{
			Channel: v.GetString("events.channel"),
		},
		Jobs: JobsConfig{
			Queue:       v.GetString("jobs.queue"),
			MaxDuration: v.GetDuration("jobs.max_duration"),
			MaxRetry:    v.GetInt("jobs.max_retry"),
			Retention:   v.GetDuration("jobs.retention"),
			RecordTTL:   v.GetDuration("jobs.record_ttl"),
		},
		Worker: WorkerConfig{
			Embedded:    v.GetBool("worker.embedded"),
			Concurrency: v.GetInt("worker.concurrency"),
			CancelGrace: v.GetDuration("worker.cancel_grace"),
		},
		Trainer: TrainerConfig{
			EpochDelay: v.GetDuration("trainer.epoch_delay"),
		},
		Relay: RelayConfig{
			BackoffInitial:   v.GetDuration("relay.backoff_initial"),
			BackoffMax:       v.GetDuration("relay.backoff_max"),
			BackoffJitter:    v.GetFloat64("relay.backoff_jitter"),
			FailureThreshold: v.GetInt("relay.failure_threshold"),
		},
		Push: PushConfig{
			SendBuffer:   v.GetInt("push.send_buffer"),
			WriteTimeout: v.GetDuration("push.write_timeout"),
			PingInterval: v.GetDuration("push.ping_interval"),
		},
		RateLimit: RateLimitConfig{
			TrainPerMin: v.GetInt("ratelimit.train_per_min"),
		},
		Auth: AuthConfig{
			Enabled:   v.GetBool("auth.enabled"),
			JWTSecret: v.GetString("jwt.secret"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
		},
	}

	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth is enabled but JWT_SECRET is not set")
	}
	if cfg.Worker.Concurrency < 1 {
		return nil, fmt.Errorf("worker.concurrency must be at least 1, got %d", cfg.Worker.Concurrency)
	}

	return cfg, nil
}

// Options returns go-redis connection options, preferring REDIS_URL
func (c RedisConfig) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
	}, nil
}

// splitList accepts both YAML lists and comma-separated env values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"judgebox/internal/common/cache"
	"judgebox/internal/common/db"
	"judgebox/internal/common/http/middleware"
	"judgebox/internal/common/mq"
	"judgebox/internal/common/storage"
	"judgebox/internal/exec/judge"
	"judgebox/internal/exec/sandbox/engine"
	"judgebox/internal/exec/sandbox/profile"
	"judgebox/internal/exec/session"
	"judgebox/internal/exec/transport"
	"judgebox/pkg/utils/logger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 2 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultMetricsPath     = "/metrics"
	defaultHostInterval    = 15 * time.Second
	defaultResultTopic     = "judge.results"
	defaultProblemDir      = "configs/problems"
	defaultHistoryLimit    = 20
	problemSourceFile      = "file"
	problemSourceMySQL     = "mysql"
	progressBackendMemory  = "memory"
	progressBackendRedis   = "redis"
	eventsDriverKafka      = "kafka"
	eventsDriverRabbitMQ   = "rabbitmq"
	eventsDriverNone       = "none"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ProblemConfig selects where problems and test cases come from.
type ProblemConfig struct {
	Source string `yaml:"source"`
	Dir    string `yaml:"dir"`

	DataPackBucket   string        `yaml:"dataPackBucket"`
	DataPackMaxBytes int64         `yaml:"dataPackMaxBytes"`
	DataPackTTL      time.Duration `yaml:"dataPackTTL"`
}

// ProgressConfig selects the progress repository backend.
type ProgressConfig struct {
	Backend      string `yaml:"backend"`
	HistoryLimit int    `yaml:"historyLimit"`
}

// EventsConfig selects the broker for judge result events.
type EventsConfig struct {
	Driver string `yaml:"driver"`
	Topic  string `yaml:"topic"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	HostInterval time.Duration `yaml:"hostInterval"`
}

// AppConfig holds exec-service config.
type AppConfig struct {
	Server    ServerConfig               `yaml:"server"`
	Logger    logger.Config              `yaml:"logger"`
	Auth      middleware.AuthConfig      `yaml:"auth"`
	CORS      middleware.CORSConfig      `yaml:"cors"`
	RateLimit middleware.RateLimitConfig `yaml:"rateLimit"`
	Engine    engine.Config              `yaml:"engine"`
	Session   session.Config             `yaml:"session"`
	Judge     judge.Config               `yaml:"judge"`
	WebSocket transport.Config           `yaml:"websocket"`
	Languages []profile.LanguageRecipe   `yaml:"languages"`
	Problems  ProblemConfig              `yaml:"problems"`
	Progress  ProgressConfig             `yaml:"progress"`
	Events    EventsConfig               `yaml:"events"`
	Metrics   MetricsConfig              `yaml:"metrics"`
	Database  db.MySQLConfig             `yaml:"database"`
	Redis     cache.RedisConfig          `yaml:"redis"`
	MinIO     storage.MinIOConfig        `yaml:"minio"`
	Kafka     mq.KafkaConfig             `yaml:"kafka"`
	RabbitMQ  mq.RabbitConfig            `yaml:"rabbitmq"`
}

// loadAppConfig reads envFile (if present) into the environment, expands ${VAR}
// references in the YAML text and applies defaults.
func loadAppConfig(path, envFile string) (*AppConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file failed: %w", err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	return parseAppConfig([]byte(os.ExpandEnv(string(data))))
}

func parseAppConfig(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
	if cfg.Metrics.HostInterval == 0 {
		cfg.Metrics.HostInterval = defaultHostInterval
	}
	cfg.Problems.Source = strings.ToLower(strings.TrimSpace(cfg.Problems.Source))
	if cfg.Problems.Source == "" {
		cfg.Problems.Source = problemSourceFile
	}
	if cfg.Problems.Dir == "" {
		cfg.Problems.Dir = defaultProblemDir
	}
	if cfg.Problems.DataPackBucket == "" {
		cfg.Problems.DataPackBucket = cfg.MinIO.Bucket
	}
	cfg.Progress.Backend = strings.ToLower(strings.TrimSpace(cfg.Progress.Backend))
	if cfg.Progress.Backend == "" {
		cfg.Progress.Backend = progressBackendMemory
	}
	if cfg.Progress.HistoryLimit <= 0 {
		cfg.Progress.HistoryLimit = defaultHistoryLimit
	}
	cfg.Events.Driver = strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
	if cfg.Events.Driver == "" {
		cfg.Events.Driver = eventsDriverNone
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaultResultTopic
	}
	cfg.CORS.ApplyDefaults()
	cfg.RateLimit.ApplyDefaults()
	cfg.Engine.ApplyDefaults()
	cfg.Session.ApplyDefaults()
	cfg.Judge.ApplyDefaults()
	cfg.WebSocket.ApplyDefaults()
}

func validate(cfg *AppConfig) error {
	if !cfg.Auth.Disabled && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwtSecret is required unless auth.disabled is set")
	}
	switch cfg.Problems.Source {
	case problemSourceFile:
	case problemSourceMySQL:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("database dsn is required for mysql problem source")
		}
	default:
		return fmt.Errorf("unknown problems.source %q", cfg.Problems.Source)
	}
	switch cfg.Progress.Backend {
	case progressBackendMemory:
	case progressBackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required for redis progress backend")
		}
	default:
		return fmt.Errorf("unknown progress.backend %q", cfg.Progress.Backend)
	}
	if cfg.RateLimit.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when rateLimit is enabled")
	}
	switch cfg.Events.Driver {
	case eventsDriverNone:
	case eventsDriverKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers are required for kafka events driver")
		}
	case eventsDriverRabbitMQ:
		if cfg.RabbitMQ.URL == "" {
			return fmt.Errorf("rabbitmq url is required for rabbitmq events driver")
		}
	default:
		return fmt.Errorf("unknown events.driver %q", cfg.Events.Driver)
	}
	return nil
}

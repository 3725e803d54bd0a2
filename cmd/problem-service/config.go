package main

import (
	"fmt"
	"os"
	"time"

	"solveq/internal/common/auth"
	"solveq/internal/common/cache"
	"solveq/internal/common/db"
	"solveq/internal/common/events"
	"solveq/internal/common/mq"
	"solveq/internal/common/storage"
	"solveq/internal/problem/service"
	"solveq/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8083"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	busKafka  = "kafka"
	busMemory = "memory"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// BusConfig selects the message bus.
type BusConfig struct {
	// Driver is "kafka" (default) or "memory" for a standalone local run.
	Driver         string        `yaml:"driver"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
}

// SettlementConfig holds result settlement options.
type SettlementConfig struct {
	// EmptyResultPolicy is "drop" (default) or "fail".
	EmptyResultPolicy string `yaml:"emptyResultPolicy"`
}

// ProjectionConfig holds block projection cache settings.
type ProjectionConfig struct {
	LocalSize    int           `yaml:"localSize"`
	LocalTTL     time.Duration `yaml:"localTTL"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
}

// ModelCacheConfig holds model price cache settings.
type ModelCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	EmptyTTL time.Duration `yaml:"emptyTTL"`
}

// AppConfig holds the problem-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`
	Auth   auth.Config   `yaml:"auth"`

	Database db.Config           `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	Bus      BusConfig           `yaml:"bus"`
	Topics   events.Topics       `yaml:"topics"`

	Settlement SettlementConfig `yaml:"settlement"`
	Projection ProjectionConfig `yaml:"projection"`
	ModelCache ModelCacheConfig `yaml:"modelCache"`

	emptyResultPolicy service.EmptyResultPolicy
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Auth.Secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}

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

	switch cfg.Bus.Driver {
	case "":
		cfg.Bus.Driver = busKafka
	case busKafka, busMemory:
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
	if cfg.Bus.Driver == busKafka && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Bus.ConsumerGroup == "" {
		cfg.Bus.ConsumerGroup = "problem-service"
	}
	if cfg.Bus.HandlerTimeout == 0 {
		cfg.Bus.HandlerTimeout = 30 * time.Second
	}
	cfg.Topics = cfg.Topics.WithDefaults()

	policy, err := service.ParseEmptyResultPolicy(cfg.Settlement.EmptyResultPolicy)
	if err != nil {
		return nil, err
	}
	cfg.emptyResultPolicy = policy

	// Projection defaults.
	if cfg.Projection.LocalSize <= 0 {
		cfg.Projection.LocalSize = 10000
	}
	if cfg.Projection.LocalTTL == 0 {
		cfg.Projection.LocalTTL = 30 * time.Second
	}
	if cfg.ModelCache.TTL == 0 {
		cfg.ModelCache.TTL = 10 * time.Minute
	}
	if cfg.ModelCache.EmptyTTL == 0 {
		cfg.ModelCache.EmptyTTL = 30 * time.Second
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "solveq-results"
	}

	return &cfg, nil
}

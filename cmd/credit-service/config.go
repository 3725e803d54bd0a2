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
	"solveq/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8084"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ConsumerConfig holds charge and ledger consumer settings.
type ConsumerConfig struct {
	Group          string        `yaml:"group"`
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
	// DedupeTTL is how long a processed charge id is remembered.
	DedupeTTL time.Duration `yaml:"dedupeTTL"`
}

// AppConfig holds the credit-service configuration.
type AppConfig struct {
	Server ServerConfig  `yaml:"server"`
	Logger logger.Config `yaml:"logger"`
	Auth   auth.Config   `yaml:"auth"`

	Database db.Config         `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    mq.KafkaConfig    `yaml:"kafka"`
	Topics   events.Topics     `yaml:"topics"`
	Consumer ConsumerConfig    `yaml:"consumer"`
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
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
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
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "credit-service"
	}
	if cfg.Consumer.HandlerTimeout == 0 {
		cfg.Consumer.HandlerTimeout = 30 * time.Second
	}
	cfg.Topics = cfg.Topics.WithDefaults()
	return &cfg, nil
}

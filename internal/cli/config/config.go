package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultProblemBaseURL = "http://127.0.0.1:8083"
	DefaultCreditBaseURL  = "http://127.0.0.1:8084"
	DefaultTimeout        = 10 * time.Second
	DefaultTokenStatePath = "configs/cli_state.json"
	DefaultHistoryFile    = ".solveq_history"
)

// Config holds CLI configuration.
type Config struct {
	ProblemBaseURL string        `yaml:"problemBaseURL"`
	CreditBaseURL  string        `yaml:"creditBaseURL"`
	Timeout        time.Duration `yaml:"timeout"`
	TokenStatePath string        `yaml:"tokenStatePath"`
	HistoryFile    string        `yaml:"historyFile"`
	PrettyJSON     *bool         `yaml:"prettyJSON"`
}

// BaseURLs maps each service name used by commands to its base URL.
func (c Config) BaseURLs() map[string]string {
	return map[string]string{
		"problem": c.ProblemBaseURL,
		"credit":  c.CreditBaseURL,
	}
}

func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ProblemBaseURL == "" {
		cfg.ProblemBaseURL = DefaultProblemBaseURL
	}
	if cfg.CreditBaseURL == "" {
		cfg.CreditBaseURL = DefaultCreditBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenStatePath == "" {
		cfg.TokenStatePath = DefaultTokenStatePath
	}
	if cfg.HistoryFile == "" {
		cfg.HistoryFile = DefaultHistoryFile
	}
	if cfg.PrettyJSON == nil {
		value := true
		cfg.PrettyJSON = &value
	}
}

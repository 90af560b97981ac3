// Package runtimeconfig loads the ambient settings cmd/runner needs around
// one strategy's domain.UserRequest: storage, caching, eventing and the LLM
// backend, following the same confkit.Section loading style as
// internal/config.
package runtimeconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nof0labs/stratrun/pkg/confkit"
	"github.com/nof0labs/stratrun/pkg/domain"
	llmpkg "github.com/nof0labs/stratrun/pkg/llm"
)

// ComposerKind selects which Composer implementation drives a strategy.
type ComposerKind string

const (
	ComposerPrompt ComposerKind = "prompt"
	ComposerGrid   ComposerKind = "grid"
)

// PostgresConf holds the runner's Postgres connection string. Unlike
// internal/config's PostgresConf it carries no pool settings.
type PostgresConf struct {
	DSN string `yaml:"dsn"`
}

// RedisConf configures the Redis instance behind the paper gateway's
// idempotency cache and the market data snapshot cache.
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// KafkaConf configures the lifecycle/cycle event publisher.
type KafkaConf struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Config is the full runner configuration: one strategy's UserRequest plus
// the ambient infra it runs against.
type Config struct {
	StrategyID string               `yaml:"strategy_id"`
	Composer   ComposerKind         `yaml:"composer"`
	Request    domain.UserRequest   `yaml:"request"`
	LLM        confkit.Section[llmpkg.Config] `yaml:"llm"`
	Postgres   PostgresConf         `yaml:"postgres"`
	Redis      RedisConf            `yaml:"redis"`
	Kafka      KafkaConf            `yaml:"kafka"`
}

// Load reads and validates a runner configuration file, hydrating the LLM
// section relative to the main file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runner config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse runner config: %w", err)
	}

	if cfg.StrategyID == "" {
		return nil, fmt.Errorf("runner config: strategy_id is required")
	}
	if cfg.Composer == "" {
		cfg.Composer = ComposerPrompt
	}
	if err := cfg.Request.Validate(); err != nil {
		return nil, fmt.Errorf("runner config: %w", err)
	}

	baseDir := confkit.BaseDir(path)
	if err := cfg.LLM.Hydrate(baseDir, llmpkg.LoadConfig); err != nil {
		return nil, fmt.Errorf("runner config: load llm section: %w", err)
	}

	return &cfg, nil
}

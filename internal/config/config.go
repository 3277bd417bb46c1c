// Package config loads the ordermon YAML configuration.
//
// Durations are Go duration strings ("250ms", "5s"). Any field left out of
// the file keeps its Default value, and unknown fields are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Engine   Engine   `yaml:"engine"`
	Monitor  Monitor  `yaml:"monitor"`
	Kafka    Kafka    `yaml:"kafka"`
	Ops      Ops      `yaml:"ops"`
	Shutdown Shutdown `yaml:"shutdown"`
}

// Database configures the SQLite store.
type Database struct {
	Path        string        `yaml:"path"`
	PoolSize    int           `yaml:"pool_size"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// ConnMaxLifetime recycles pooled connections. Zero keeps them open.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Redis configures the flag and stats cache.
type Redis struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	FlagTTL     time.Duration `yaml:"flag_ttl"`
}

// Engine configures the dispatch loop.
type Engine struct {
	Workers        int           `yaml:"workers"`
	BatchSize      int           `yaml:"batch_size"`
	MinBatchSize   int           `yaml:"min_batch_size"`
	Interval       time.Duration `yaml:"interval"`
	MaxInterval    time.Duration `yaml:"max_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	ErrorThreshold float64       `yaml:"error_threshold"`

	// Executor is "full" or "step".
	Executor string `yaml:"executor"`
	// Step is the per-cycle fill of the step executor, as a decimal string.
	Step string `yaml:"step"`
}

// Monitor configures flag reconciliation and snapshots.
type Monitor struct {
	Interval         time.Duration `yaml:"interval"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// Kafka configures the optional event sink. It is disabled when Brokers
// is empty.
type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Ops configures the HTTP ops server. It is disabled when Addr is empty.
type Ops struct {
	Addr string `yaml:"addr"`
}

// Shutdown configures graceful termination.
type Shutdown struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: Database{
			Path:        "ordermon.db",
			PoolSize:    8,
			BusyTimeout: 5 * time.Second,
		},
		Redis: Redis{
			Addr:        "localhost:6379",
			PoolSize:    16,
			ReadTimeout: 200 * time.Millisecond,
			FlagTTL:     10 * time.Minute,
		},
		Engine: Engine{
			Workers:        4,
			BatchSize:      100,
			MinBatchSize:   10,
			Interval:       time.Second,
			MaxInterval:    30 * time.Second,
			MaxRetries:     3,
			OpTimeout:      5 * time.Second,
			ErrorThreshold: 0.5,
			Executor:       "full",
			Step:           "1",
		},
		Monitor: Monitor{
			Interval:         5 * time.Second,
			SnapshotInterval: 15 * time.Second,
		},
		Kafka: Kafka{
			Topic: "ordermon.events",
		},
		Ops: Ops{
			Addr: ":9090",
		},
		Shutdown: Shutdown{
			GracePeriod: 30 * time.Second,
		},
	}
}

// Load reads path over Default and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document omits.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Database.Path != "", "database.path is required")
	check(c.Database.PoolSize > 0, "database.pool_size must be positive, got %d", c.Database.PoolSize)
	check(c.Database.BusyTimeout > 0, "database.busy_timeout must be positive, got %s", c.Database.BusyTimeout)
	check(c.Database.ConnMaxLifetime >= 0, "database.conn_max_lifetime must not be negative, got %s", c.Database.ConnMaxLifetime)

	check(c.Redis.Addr != "", "redis.addr is required")
	check(c.Redis.DB >= 0, "redis.db must not be negative, got %d", c.Redis.DB)
	check(c.Redis.PoolSize > 0, "redis.pool_size must be positive, got %d", c.Redis.PoolSize)
	check(c.Redis.ReadTimeout > 0, "redis.read_timeout must be positive, got %s", c.Redis.ReadTimeout)
	check(c.Redis.FlagTTL > 0, "redis.flag_ttl must be positive, got %s", c.Redis.FlagTTL)

	e := c.Engine
	check(e.Workers > 0, "engine.workers must be positive, got %d", e.Workers)
	check(e.BatchSize > 0, "engine.batch_size must be positive, got %d", e.BatchSize)
	check(e.MinBatchSize > 0, "engine.min_batch_size must be positive, got %d", e.MinBatchSize)
	check(e.MinBatchSize <= e.BatchSize, "engine.min_batch_size %d exceeds batch_size %d", e.MinBatchSize, e.BatchSize)
	check(e.Interval > 0, "engine.interval must be positive, got %s", e.Interval)
	check(e.MaxInterval >= e.Interval, "engine.max_interval %s is below interval %s", e.MaxInterval, e.Interval)
	check(e.MaxRetries >= 0, "engine.max_retries must not be negative, got %d", e.MaxRetries)
	check(e.OpTimeout > 0, "engine.op_timeout must be positive, got %s", e.OpTimeout)
	check(e.ErrorThreshold > 0 && e.ErrorThreshold <= 1, "engine.error_threshold must be in (0, 1], got %g", e.ErrorThreshold)
	check(e.Executor == "full" || e.Executor == "step", "engine.executor must be \"full\" or \"step\", got %q", e.Executor)
	if e.Executor == "step" {
		step, err := e.StepQuantity()
		check(err == nil && step.IsPositive(), "engine.step must be a positive decimal, got %q", e.Step)
	}

	check(c.Monitor.Interval > 0, "monitor.interval must be positive, got %s", c.Monitor.Interval)
	check(c.Monitor.SnapshotInterval > 0, "monitor.snapshot_interval must be positive, got %s", c.Monitor.SnapshotInterval)

	check(len(c.Kafka.Brokers) == 0 || c.Kafka.Topic != "", "kafka.topic is required when brokers are set")
	check(c.Shutdown.GracePeriod > 0, "shutdown.grace_period must be positive, got %s", c.Shutdown.GracePeriod)

	return errors.Join(errs...)
}

// StepQuantity parses Step.
func (e Engine) StepQuantity() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(e.Step)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("engine.step: %w", err)
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/tagqueue/internal/domain"
	"github.com/cuongbtq/tagqueue/internal/store"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Store drivers
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the job store backend
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	URL             string        `yaml:"url"`
	PoolSize        int           `yaml:"pool_size"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
	MaxClaimRetries int           `yaml:"max_claim_retries"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ settings for lifecycle events
type RabbitMQConfig struct {
	Enabled       bool             `yaml:"enabled"`
	URL           string           `yaml:"url"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	Queue         QueueConfig      `yaml:"queue"`
	RoutingPrefix string           `yaml:"routing_prefix"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig optionally binds an audit queue to the exchange
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                  string        `yaml:"id"`
	MaxThreads          int           `yaml:"max_threads"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	AllowedTags         []string      `yaml:"allowed_tags"`
	RejectPolicy        string        `yaml:"reject_policy"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	PoolShutdownTimeout time.Duration `yaml:"pool_shutdown_timeout"`
	ReconcileSchedule   string        `yaml:"reconcile_schedule"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            4567,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{Driver: DriverRedis},
		Redis: RedisConfig{
			URL:           "redis://localhost:6379/0",
			DialTimeout:   5 * time.Second,
			RetryAttempts: 3,
			RetryInterval: time.Second,
		},
		Database: DatabaseConfig{
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		RabbitMQ: RabbitMQConfig{
			Host:          "localhost",
			Port:          5672,
			User:          "guest",
			Password:      "guest",
			VHost:         "/",
			Exchange:      ExchangeConfig{Name: "tagqueue.events", Type: "topic", Durable: true},
			RoutingPrefix: "tagqueue",
			Connection: ConnectionConfig{
				RetryAttempts:     3,
				RetryInterval:     2 * time.Second,
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 5 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
		App:     AppConfig{Name: "tagqueue", Version: "dev", Environment: "development"},
		Worker: WorkerConfig{
			ID:                  fmt.Sprintf("worker-%d", os.Getpid()),
			MaxThreads:          2,
			PollInterval:        time.Second,
			RejectPolicy:        string(store.RejectDiscard),
			DrainTimeout:        60 * time.Second,
			PoolShutdownTimeout: 30 * time.Second,
			ReconcileSchedule:   "@every 30s",
		},
	}
}

// Load reads and parses the configuration file on top of Default
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault is Load, except that a missing file yields Default
func LoadOrDefault(configPath string) (*Config, error) {
	config, err := Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}

// LookupFunc matches os.LookupEnv
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("APP_ENV", &c.App.Environment)
	str("WORKER_ID", &c.Worker.ID)
	str("REJECT_POLICY", &c.Worker.RejectPolicy)
	str("RECONCILE_SCHEDULE", &c.Worker.ReconcileSchedule)
	str("STORE_DRIVER", &c.Store.Driver)
	str("REDIS_URL", &c.Redis.URL)
	str("DATABASE_URL", &c.Database.URL)
	str("RABBITMQ_URL", &c.RabbitMQ.URL)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_OUTPUT", &c.Logging.Output)

	if v, ok := lookup("WORKER_TAGS"); ok {
		c.Worker.AllowedTags = domain.ParseTags(v)
	}

	if v, ok := lookup("RABBITMQ_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RABBITMQ_ENABLED %q: %w", v, err)
		}
		c.RabbitMQ.Enabled = enabled
	}

	for _, f := range []func() error{
		func() error { return num("MAX_THREADS", &c.Worker.MaxThreads) },
		func() error { return num("API_PORT", &c.Server.Port) },
		func() error { return dur("POLL_INTERVAL", &c.Worker.PollInterval) },
		func() error { return dur("DRAIN_TIMEOUT", &c.Worker.DrainTimeout) },
		func() error { return dur("POOL_SHUTDOWN_TIMEOUT", &c.Worker.PoolShutdownTimeout) },
	} {
		if err := f(); err != nil {
			return err
		}
	}

	return nil
}

// ParseDuration accepts whole or fractional seconds ("2", "0.5") or a Go
// duration ("1500ms").
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor a duration", v)
	}
	return d, nil
}

// Validate checks the settings shared by every binary
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis url is required for the redis store")
		}
	case DriverPostgres:
		if c.Database.URL == "" && c.Database.Host == "" {
			return fmt.Errorf("database url or host is required for the postgres store")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.URL == "" && c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq url or host is required when events are enabled")
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
	}

	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Store.Driver == DriverMemory {
		return fmt.Errorf("the memory store cannot be shared with a separate worker process")
	}

	if c.Worker.MaxThreads <= 0 {
		return fmt.Errorf("worker max_threads must be greater than 0")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.DrainTimeout <= 0 {
		return fmt.Errorf("worker drain_timeout must be greater than 0")
	}

	if c.Worker.PoolShutdownTimeout <= 0 {
		return fmt.Errorf("worker pool_shutdown_timeout must be greater than 0")
	}

	if _, err := store.ParseRejectPolicy(c.Worker.RejectPolicy); err != nil {
		return fmt.Errorf("worker reject_policy: %w", err)
	}

	return nil
}

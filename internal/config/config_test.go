package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
			assert.Equal(t, DriverPostgres, cfg.Store.Driver)
			assert.Equal(t, "jobs_db", cfg.Database.Database)
			assert.True(t, cfg.RabbitMQ.Enabled)
			assert.Equal(t, "jobs_exchange", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, "booking", cfg.RabbitMQ.RoutingPrefix)
			assert.Equal(t, "worker-a", cfg.Worker.ID)
			assert.Equal(t, 4, cfg.Worker.MaxThreads)
			assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
			assert.Equal(t, []string{"hotel", "payment"}, cfg.Worker.AllowedTags)
			assert.Equal(t, "requeue", cfg.Worker.RejectPolicy)
			assert.Equal(t, 90*time.Second, cfg.Worker.DrainTimeout)

			// fields missing from the file keep their defaults
			assert.Equal(t, 30*time.Second, cfg.Worker.PoolShutdownTimeout)
			assert.Equal(t, "@every 30s", cfg.Worker.ReconcileSchedule)
			assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)

	_, err = LoadOrDefault("testdata/malformed.yaml")
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 4567, cfg.Server.Port)
	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 2, cfg.Worker.MaxThreads)
	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.Worker.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.Worker.PoolShutdownTimeout)
	assert.Equal(t, "discard", cfg.Worker.RejectPolicy)
	assert.Regexp(t, `^worker-\d+$`, cfg.Worker.ID)
	assert.False(t, cfg.RabbitMQ.Enabled)

	require.NoError(t, cfg.ValidateAPIConfig())
	require.NoError(t, cfg.ValidateWorkerConfig())
}

func TestConfig_ApplyEnv(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		check     func(t *testing.T, cfg *Config)
		errString string
	}{
		{
			name: "worker settings",
			env: map[string]string{
				"WORKER_ID":             "w-7",
				"MAX_THREADS":           "8",
				"POLL_INTERVAL":         "2",
				"WORKER_TAGS":           " hotel , ,payment ",
				"REJECT_POLICY":         "skip",
				"DRAIN_TIMEOUT":         "1m30s",
				"POOL_SHUTDOWN_TIMEOUT": "0.5",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "w-7", cfg.Worker.ID)
				assert.Equal(t, 8, cfg.Worker.MaxThreads)
				assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
				assert.Equal(t, []string{"hotel", "payment"}, cfg.Worker.AllowedTags)
				assert.Equal(t, "skip", cfg.Worker.RejectPolicy)
				assert.Equal(t, 90*time.Second, cfg.Worker.DrainTimeout)
				assert.Equal(t, 500*time.Millisecond, cfg.Worker.PoolShutdownTimeout)
			},
		},
		{
			name: "connections",
			env: map[string]string{
				"STORE_DRIVER":     "postgres",
				"REDIS_URL":        "redis://r:6379/2",
				"DATABASE_URL":     "postgres://u:p@db/jobs",
				"API_PORT":         "9000",
				"RABBITMQ_ENABLED": "true",
				"RABBITMQ_URL":     "amqp://mq",
				"LOG_LEVEL":        "debug",
				"LOG_FORMAT":       "json",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DriverPostgres, cfg.Store.Driver)
				assert.Equal(t, "redis://r:6379/2", cfg.Redis.URL)
				assert.Equal(t, "postgres://u:p@db/jobs", cfg.Database.URL)
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.True(t, cfg.RabbitMQ.Enabled)
				assert.Equal(t, "amqp://mq", cfg.RabbitMQ.URL)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "empty tag list clears allow-list",
			env:  map[string]string{"WORKER_TAGS": ""},
			check: func(t *testing.T, cfg *Config) {
				assert.Empty(t, cfg.Worker.AllowedTags)
			},
		},
		{
			name:      "bad max threads",
			env:       map[string]string{"MAX_THREADS": "many"},
			errString: "invalid MAX_THREADS",
		},
		{
			name:      "bad poll interval",
			env:       map[string]string{"POLL_INTERVAL": "soon"},
			errString: "invalid POLL_INTERVAL",
		},
		{
			name:      "bad rabbitmq flag",
			env:       map[string]string{"RABBITMQ_ENABLED": "sometimes"},
			errString: "invalid RABBITMQ_ENABLED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Worker.AllowedTags = []string{"preset"}

			err := cfg.ApplyEnv(func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			})
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "1", want: time.Second},
		{in: " 3 ", want: 3 * time.Second},
		{in: "0.25", want: 250 * time.Millisecond},
		{in: "750ms", want: 750 * time.Millisecond},
		{in: "2m", want: 2 * time.Minute},
		{in: "fast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(cfg *Config)
		validate  func(cfg *Config) error
		errString string
	}{
		{
			name:     "defaults are valid for the api",
			mutate:   func(*Config) {},
			validate: (*Config).ValidateAPIConfig,
		},
		{
			name:      "port too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			validate:  (*Config).ValidateAPIConfig,
			errString: "invalid server port",
		},
		{
			name:      "port too high",
			mutate:    func(c *Config) { c.Server.Port = MaxPort + 1 },
			validate:  (*Config).ValidateAPIConfig,
			errString: "invalid server port",
		},
		{
			name:      "unknown driver",
			mutate:    func(c *Config) { c.Store.Driver = "etcd" },
			validate:  (*Config).Validate,
			errString: "unknown store driver",
		},
		{
			name:      "redis without url",
			mutate:    func(c *Config) { c.Redis.URL = "" },
			validate:  (*Config).Validate,
			errString: "redis url is required",
		},
		{
			name:      "postgres without address",
			mutate:    func(c *Config) { c.Store.Driver = DriverPostgres },
			validate:  (*Config).Validate,
			errString: "database url or host is required",
		},
		{
			name: "postgres with url",
			mutate: func(c *Config) {
				c.Store.Driver = DriverPostgres
				c.Database.URL = "postgres://localhost/jobs"
			},
			validate: (*Config).Validate,
		},
		{
			name: "rabbitmq enabled without exchange",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = true
				c.RabbitMQ.Exchange.Name = ""
			},
			validate:  (*Config).Validate,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "worker with memory store",
			mutate:    func(c *Config) { c.Store.Driver = DriverMemory },
			validate:  (*Config).ValidateWorkerConfig,
			errString: "memory store",
		},
		{
			name:      "zero max threads",
			mutate:    func(c *Config) { c.Worker.MaxThreads = 0 },
			validate:  (*Config).ValidateWorkerConfig,
			errString: "max_threads",
		},
		{
			name:      "zero poll interval",
			mutate:    func(c *Config) { c.Worker.PollInterval = 0 },
			validate:  (*Config).ValidateWorkerConfig,
			errString: "poll_interval",
		},
		{
			name:      "unknown reject policy",
			mutate:    func(c *Config) { c.Worker.RejectPolicy = "bounce" },
			validate:  (*Config).ValidateWorkerConfig,
			errString: "reject_policy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := tt.validate(cfg)
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, 50, cfg.Redis.MaxClaimRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.RabbitMQ.Publish.RetryInterval)
	assert.Empty(t, cfg.Worker.AllowedTags)
	assert.NoError(t, cfg.ValidateAPIConfig())
	assert.NoError(t, cfg.ValidateWorkerConfig())
}

// Package bootstrap turns a loaded config into the long-lived clients the
// binaries share: the logger, the job store and the event publisher.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/tagqueue/internal/config"
	"github.com/cuongbtq/tagqueue/internal/events"
	"github.com/cuongbtq/tagqueue/internal/store"
	"github.com/cuongbtq/tagqueue/internal/store/memory"
	"github.com/cuongbtq/tagqueue/internal/store/postgres"
	redisstore "github.com/cuongbtq/tagqueue/internal/store/redis"
	"github.com/cuongbtq/tagqueue/shared/logger"
	"github.com/cuongbtq/tagqueue/shared/postgresql"
	"github.com/cuongbtq/tagqueue/shared/rabbitmq"
	"github.com/cuongbtq/tagqueue/shared/redis"
)

const migrateTimeout = 30 * time.Second

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// OpenStore connects the store selected by cfg.Store.Driver. Closing the
// returned store closes its connection.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverRedis:
		client, err := redis.NewClient(&redis.Config{
			URL:           cfg.Redis.URL,
			PoolSize:      cfg.Redis.PoolSize,
			DialTimeout:   cfg.Redis.DialTimeout,
			RetryAttempts: cfg.Redis.RetryAttempts,
			RetryInterval: cfg.Redis.RetryInterval,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		return redisstore.New(client.GetClient(),
			redisstore.WithLogger(log),
			redisstore.WithMaxClaimRetries(cfg.Redis.MaxClaimRetries),
		), nil

	case config.DriverPostgres:
		client, err := postgresql.NewClient(&postgresql.Config{
			URL:             cfg.Database.URL,
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.Database,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}

		s := postgres.New(client.GetDB(), postgres.WithLogger(log))
		migrateCtx, cancel := context.WithTimeout(ctx, migrateTimeout)
		defer cancel()
		if err := s.Migrate(migrateCtx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil

	case config.DriverMemory:
		log.Warn("Using in-process memory store, jobs are not shared between processes")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Publisher is an events.Publisher that may hold a broker connection
type Publisher interface {
	events.Publisher
	Close() error
}

type noopPublisher struct {
	events.NoopPublisher
}

func (noopPublisher) Close() error { return nil }

type rabbitPublisher struct {
	*events.RabbitPublisher
	client *rabbitmq.Client
}

func (p rabbitPublisher) Close() error { return p.client.Close() }

// OpenPublisher connects to RabbitMQ when events are enabled and returns
// a no-op publisher otherwise.
func OpenPublisher(cfg *config.RabbitMQConfig, log *slog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return noopPublisher{}, nil
	}

	client, err := rabbitmq.NewClient(RabbitConfig(cfg), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	return rabbitPublisher{
		RabbitPublisher: events.NewRabbitPublisher(client, cfg.RoutingPrefix, log),
		client:          client,
	}, nil
}

// RabbitConfig maps the config section onto the client settings
func RabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		URL:                cfg.URL,
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.Queue.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

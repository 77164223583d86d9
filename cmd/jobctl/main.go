package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/tagqueue/internal/bootstrap"
	"github.com/cuongbtq/tagqueue/internal/cli"
	"github.com/cuongbtq/tagqueue/internal/config"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := os.Getenv("JOBCTL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fail(fmt.Errorf("failed to load config: %w", err))
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fail(fmt.Errorf("invalid environment: %w", err))
	}
	if err := cfg.Validate(); err != nil {
		return fail(fmt.Errorf("invalid config: %w", err))
	}

	// Connection chatter goes to stderr so command output stays clean.
	if cfg.Logging.Output == "" || cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if os.Getenv("LOG_LEVEL") == "" {
		cfg.Logging.Level = "warn"
	}
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize logger: %w", err))
	}
	defer appLogger.Close()

	ctx := context.Background()

	jobStore, err := bootstrap.OpenStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fail(err)
	}

	publisher, err := bootstrap.OpenPublisher(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		jobStore.Close()
		return fail(err)
	}
	defer publisher.Close()

	return cli.Execute(ctx, &cli.Dependencies{
		Store:     jobStore,
		Publisher: publisher,
		Logger:    appLogger.Logger,
	}, os.Args[1:], os.Stdout)
}

func fail(err error) error {
	log.Println("Error:", err)
	return err
}

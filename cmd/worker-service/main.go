package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/tagqueue/internal/bootstrap"
	"github.com/cuongbtq/tagqueue/internal/config"
	"github.com/cuongbtq/tagqueue/internal/store"
	"github.com/cuongbtq/tagqueue/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("store", cfg.Store.Driver),
	)

	ctx := context.Background()

	// The worker closes the store when it terminates.
	jobStore, err := bootstrap.OpenStore(ctx, cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	publisher, err := bootstrap.OpenPublisher(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		jobStore.Close()
		return err
	}
	defer publisher.Close()

	w, err := worker.NewWorker(&worker.Config{
		WorkerID:            cfg.Worker.ID,
		Store:               jobStore,
		Logger:              appLogger.Logger,
		Publisher:           publisher,
		MaxThreads:          cfg.Worker.MaxThreads,
		PollInterval:        cfg.Worker.PollInterval,
		AllowedTags:         cfg.Worker.AllowedTags,
		RejectPolicy:        store.RejectPolicy(cfg.Worker.RejectPolicy),
		DrainTimeout:        cfg.Worker.DrainTimeout,
		PoolShutdownTimeout: cfg.Worker.PoolShutdownTimeout,
		ReconcileSchedule:   cfg.Worker.ReconcileSchedule,
	})
	if err != nil {
		jobStore.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGTSTP, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	go handleSignals(sigs, w, appLogger.Logger)

	if err := w.Start(ctx); err != nil {
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// handleSignals maps process signals onto the worker lifecycle until it stops
func handleSignals(sigs <-chan os.Signal, w *worker.Worker, logger *slog.Logger) {
	for {
		select {
		case <-w.Done():
			return
		case sig := <-sigs:
			logger.Info("Received signal", slog.String("signal", sig.String()))
			switch sig {
			case syscall.SIGTSTP:
				w.Pause()
			case syscall.SIGUSR2:
				w.Resume()
			default:
				w.Shutdown()
			}
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/craftstudio/craftstudio/internal/activity"
	"github.com/craftstudio/craftstudio/internal/appconfig"
	"github.com/craftstudio/craftstudio/internal/config"
	"github.com/craftstudio/craftstudio/internal/control"
	"github.com/craftstudio/craftstudio/internal/logging"
	"github.com/craftstudio/craftstudio/internal/models"
	"github.com/craftstudio/craftstudio/internal/queue"
	"github.com/craftstudio/craftstudio/internal/registry"
	"github.com/craftstudio/craftstudio/internal/router"
	"github.com/craftstudio/craftstudio/internal/supervisor"
	"github.com/craftstudio/craftstudio/internal/workerconfig"
)

var (
	Version   = "dev"     // Injected via ldflags during build
	GitCommit = "unknown" // Injected via ldflags during build
	BuildTime = "unknown" // Injected via ldflags during build
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := logging.NewFromConfig(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	logger.Info("CraftStudio shell starting...",
		"version", Version, "commit", GitCommit, "build time", BuildTime)

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Fatal("Failed to create directories", "error", err)
	}

	// 1. Application config, migrated to the reference schema on open
	store, err := appconfig.Open(cfg.Paths.AppConfig, logger,
		appconfig.WithSettingsDefaults(models.GlobalSettings{
			WorkerBinary:         cfg.Supervisor.WorkerBinary,
			DefaultDataRoot:      cfg.Paths.DataRoot,
			RestartGracePeriodMs: int(cfg.Supervisor.GracePeriod.Milliseconds()),
			StopWorkerOnRemove:   true,
		}),
	)
	if err != nil {
		logger.Fatal("Failed to open application config", "path", cfg.Paths.AppConfig, "error", err)
	}
	doc := store.Get()
	logger.Info("Application config loaded",
		"path", store.Path(),
		"schema_version", doc.SchemaVersion,
		"instances", len(doc.Instances))

	// 2. Supervisor, adopting workers left running by an earlier run
	sup := supervisor.NewExecSupervisor(supervisor.ExecConfig{
		StopTimeout: cfg.Supervisor.StopTimeout,
	}, logger)
	for _, ref := range doc.Instances {
		if info, ok := sup.Adopt(ref.DataDir); ok {
			logger.Info("Adopted running worker", "instance_id", ref.ID, "pid", info.PID)
		}
	}

	// 3. Activity log, mirrored to the feed when one is configured
	book := activity.NewBook(cfg.Activity.Capacity)
	var feed *activity.Feed
	publisher, err := queue.NewPublisher(cfg.Activity.Feed)
	if err != nil {
		logger.Fatal("Failed to connect activity feed", "type", cfg.Activity.Feed.Type, "error", err)
	}
	if publisher != nil {
		feed = activity.NewFeed(publisher, cfg.Activity.Feed.SubjectPrefix, logger)
		feed.Attach(book)
		logger.Info("Activity feed enabled", "type", cfg.Activity.Feed.Type)
	}

	// 4. Registry, started from the persisted instances
	reg, err := registry.New(registry.Options{
		Store:      store,
		Supervisor: sup,
		ClientFactory: registry.NewControlClientFactory(logger, control.Options{
			RequestTimeout:  cfg.Control.RequestTimeoutOrDefault(),
			BackoffMaxDelay: cfg.Control.BackoffMaxDelay,
		}),
		Files:        workerconfig.NewFiles(),
		Activity:     book,
		Logger:       logger,
		GracePeriod:  time.Duration(doc.Settings.RestartGracePeriodMs) * time.Millisecond,
		StopOnRemove: doc.Settings.StopWorkerOnRemove,
		WorkerBinary: doc.Settings.WorkerBinary,
	})
	if err != nil {
		logger.Fatal("Failed to create registry", "error", err)
	}
	loaded := reg.LoadFromConfig(context.Background())

	// Log authentication status
	if cfg.Auth.Enabled {
		logger.Info("API key authentication enabled", "num_keys", len(cfg.Auth.APIKeys))
	} else {
		logger.Warn("API key authentication DISABLED - all requests will be allowed")
	}

	// 5. HTTP API
	app := router.New(logger, reg, store, *cfg, Version)

	go func() {
		addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort))
		logger.Info("Server listening", "address", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	go func() {
		if err := loaded.Wait(context.Background()); err != nil {
			logger.Warn("Some instances did not start cleanly", "error", err)
			return
		}
		logger.Info("Instances started")
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	if err := reg.Close(); err != nil {
		logger.Warn("Failed to close control connections", "error", err)
	}
	if err := reg.WaitContext(shutdownCtx); err != nil {
		logger.Warn("Background tasks still running", "error", err)
	}
	if err := store.Flush(shutdownCtx); err != nil {
		logger.Error("Application config not fully written", "error", err)
	}

	if cfg.Supervisor.StopOnExit {
		logger.Info("Stopping workers")
		if err := sup.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to stop workers", "error", err)
		}
	}

	if feed != nil {
		if err := feed.Close(shutdownCtx); err != nil {
			logger.Warn("Failed to close activity feed", "error", err)
		}
	}

	logger.Info("Server exited")
}

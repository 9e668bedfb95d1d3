package main

import (
	"context"
	"fmt"
	"os"

	"github.com/openfondos/grantmirror/internal/app"
	redisclient "github.com/openfondos/grantmirror/internal/clients/redis"
	"github.com/openfondos/grantmirror/internal/db"
	"github.com/openfondos/grantmirror/internal/handlers"
	"github.com/openfondos/grantmirror/internal/middleware"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/server"
	"github.com/openfondos/grantmirror/internal/temporalx"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Config
	log.Info("Loading environment variables from main...")
	cfg := app.Load(log)
	if err := cfg.Validate(); err != nil {
		log.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}

	// Tracing
	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "grantmirror-api",
		Environment: cfg.Env,
	})
	defer func() { _ = shutdownOTel(context.Background()) }()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	syncRunRepo := repos.NewSyncRunRepo(thePG, log)

	// Run lock
	runLock, err := redisclient.NewRunLock(log)
	if err != nil {
		log.Error("Could not init run lock", "error", err)
		os.Exit(1)
	}
	defer runLock.Close()

	// Temporal
	log.Info("Setting up Temporal client from main...")
	temporalClient, err := temporalx.NewClient(log)
	if err != nil {
		log.Error("Could not init Temporal client", "error", err)
		os.Exit(1)
	}
	if temporalClient == nil {
		log.Error("TEMPORAL_ADDRESS is required for the API; sync runs cannot be dispatched without it")
		os.Exit(1)
	}
	defer temporalClient.Close()

	dispatcher, err := temporalx.NewDispatcher(log, temporalClient)
	if err != nil {
		log.Error("Could not init dispatcher", "error", err)
		os.Exit(1)
	}

	// Metrics
	metrics := observability.NewMetrics()

	// Handlers
	log.Info("Setting up handlers from main...")
	syncHandler := handlers.NewSyncHandler(log, syncRunRepo, runLock, dispatcher, metrics)
	healthHandler := handlers.NewHealthHandler(thePG)

	// Middleware
	triggerAuth := middleware.NewTriggerAuth(log, cfg.TriggerToken)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		TriggerAuth:   triggerAuth,
		SyncHandler:   syncHandler,
		HealthHandler: healthHandler,
		Metrics:       metrics,
		AllowOrigins:  server.ParseOrigins(cfg.AllowedOrigins),
	})

	fmt.Printf("Server listening on :%s\n", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Warn("Server failed", "error", err)
	}
}

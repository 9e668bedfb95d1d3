package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openfondos/grantmirror/internal/app"
	"github.com/openfondos/grantmirror/internal/clients/bdns"
	redisclient "github.com/openfondos/grantmirror/internal/clients/redis"
	"github.com/openfondos/grantmirror/internal/db"
	"github.com/openfondos/grantmirror/internal/observability"
	"github.com/openfondos/grantmirror/internal/platform/gcp"
	"github.com/openfondos/grantmirror/internal/platform/logger"
	"github.com/openfondos/grantmirror/internal/repos"
	"github.com/openfondos/grantmirror/internal/sync"
	"github.com/openfondos/grantmirror/internal/temporalx"
	"github.com/openfondos/grantmirror/internal/temporalx/syncflow"
	"github.com/openfondos/grantmirror/internal/temporalx/temporalworker"
	"github.com/openfondos/grantmirror/internal/utils"
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
		ServiceName: "grantmirror-worker",
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
	grantCallRepo := repos.NewGrantCallRepo(thePG, log)
	grantDocumentRepo := repos.NewGrantDocumentRepo(thePG, log)
	grantAnnouncementRepo := repos.NewGrantAnnouncementRepo(thePG, log)
	grantObjectiveRepo := repos.NewGrantObjectiveRepo(thePG, log)
	referenceRepo := repos.NewReferenceRepo(thePG, log)
	syncRunRepo := repos.NewSyncRunRepo(thePG, log)

	// Metrics
	metrics := observability.NewMetrics()

	// Remote catalog client
	bdnsClient := bdns.NewClient(log, cfg.BDNSBaseURL, cfg.BDNSSize, cfg.BDNSTimeout)

	// Object storage
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}

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
		log.Error("TEMPORAL_ADDRESS is required for the worker")
		os.Exit(1)
	}
	defer temporalClient.Close()

	dispatcher, err := temporalx.NewDispatcher(log, temporalClient)
	if err != nil {
		log.Error("Could not init dispatcher", "error", err)
		os.Exit(1)
	}

	// Sync pipeline
	log.Info("Setting up sync pipeline from main...")
	refCache := sync.NewRefCache(referenceRepo, log)
	changeCache := sync.NewChangeCache(grantCallRepo, log)
	launcher := sync.NewLauncher(log, bdnsClient, changeCache, dispatcher, metrics, sync.LauncherConfig{
		BatchSize: cfg.SyncBatchSize,
		MaxPages:  cfg.SyncMaxPages,
	})
	upserter := sync.NewUpserter(log, thePG, refCache, grantCallRepo, grantDocumentRepo, grantAnnouncementRepo, grantObjectiveRepo, metrics)
	processor := sync.NewProcessor(log, bdnsClient, upserter, grantCallRepo, syncRunRepo, dispatcher, metrics, sync.ProcessorConfig{
		WorkerLimit: cfg.WorkerLimit,
	})
	docStore := sync.NewDocStore(log, bdnsClient, bucketService, grantDocumentRepo, metrics)

	activities := &syncflow.Activities{
		Log:       log,
		Runs:      syncRunRepo,
		Refs:      refCache,
		Launcher:  launcher,
		Processor: processor,
		Docs:      docStore,
		Lock:      runLock,
		Metrics:   metrics,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := temporalworker.NewRunner(log, temporalClient, activities)
	if err != nil {
		log.Error("Could not init Temporal worker", "error", err)
		os.Exit(1)
	}
	if err := runner.Start(ctx); err != nil {
		log.Error("Temporal worker failed to start", "error", err)
		os.Exit(1)
	}

	// Scrape endpoint for the worker's own counters.
	metricsPort := utils.GetEnv("METRICS_PORT", "9090", log)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(":"+metricsPort, mux); err != nil {
			log.Warn("Metrics server failed", "error", err)
		}
	}()

	log.Info("Worker running", "task_queue", temporalx.LoadConfig().TaskQueue, "metrics_port", metricsPort)
	<-ctx.Done()
	log.Info("Worker shutting down")
}

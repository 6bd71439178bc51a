package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/priceloom/feedgate/pkg/breaker"
	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/config"
	"github.com/priceloom/feedgate/pkg/common/database"
	"github.com/priceloom/feedgate/pkg/common/kafka"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/dispatch"
	"github.com/priceloom/feedgate/pkg/dryrun"
	"github.com/priceloom/feedgate/pkg/notify"
	"github.com/priceloom/feedgate/pkg/quarantine"
	"github.com/priceloom/feedgate/pkg/runner"
	"github.com/priceloom/feedgate/pkg/validation"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.NewPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres(db)

	catalogRepo := catalog.NewRepository(db)
	quarantineRepo := quarantine.NewRepository(db)
	runnerRepo := runner.NewRepository(db)
	dryrunRepo := dryrun.NewRepository(db)

	for _, migrate := range []func() error{
		catalogRepo.AutoMigrate,
		quarantineRepo.AutoMigrate,
		runnerRepo.AutoMigrate,
		dryrunRepo.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate tables")
		}
	}

	if entries, err := runner.LoadRegistry(cfg.FeedRegistryPath); err != nil {
		logger.Log.WithError(err).Warn("feed registry not loaded; continuing with persisted feeds")
	} else if err := runnerRepo.SyncRegistry(context.Background(), entries); err != nil {
		logger.Log.WithError(err).Fatal("failed to sync feed registry")
	}

	redisClient := database.NewRedis(cfg)
	defer redisClient.Close()
	dispatcher := dispatch.NewDispatcher(redisClient)

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaNotificationTopic)
	defer producer.Close()
	notifier := notify.NewNotifier(producer)

	classifier := validation.NewClassifier()
	fetcher := runner.NewHTTPFetcher(cfg.FetchTimeout)
	matcher := catalog.NewHeuristicMatcher(catalogRepo, 0)
	brk := breaker.New(cfg.ExpirySpikeThreshold, cfg.URLHashSpikeRatio)

	quarantineSvc := quarantine.NewService(quarantineRepo, catalogRepo, classifier)
	catalogSvc := catalog.NewService(catalogRepo)
	orchestrator := runner.NewOrchestrator(
		runnerRepo, catalogRepo, quarantineSvc, notifier,
		fetcher, classifier, matcher, brk, cfg.ConsecutiveFailureLimit,
	)
	evaluator := dryrun.NewEvaluator(runnerRepo, dryrunRepo, fetcher, classifier, cfg.DryRunSampleSize, cfg.DryRunErrorSample)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	runner.NewHTTPHandler(runnerRepo, orchestrator, dispatcher).Register(api)
	quarantine.NewHTTPHandler(quarantineSvc, dispatcher).Register(api)
	catalog.NewHTTPHandler(catalogSvc).Register(api)
	dryrun.NewHTTPHandler(evaluator, dryrunRepo).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Feed Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Feed Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Feed Service stopped")
}

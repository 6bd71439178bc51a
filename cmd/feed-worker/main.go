package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/priceloom/feedgate/pkg/breaker"
	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/config"
	"github.com/priceloom/feedgate/pkg/common/database"
	"github.com/priceloom/feedgate/pkg/common/kafka"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/dispatch"
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
	orchestrator := runner.NewOrchestrator(
		runnerRepo, catalogRepo, quarantineSvc, notifier,
		fetcher, classifier, matcher, brk, cfg.ConsecutiveFailureLimit,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scheduler: enqueue SCHEDULED runs for feeds whose interval elapsed.
	go func() {
		ticker := time.NewTicker(cfg.ScheduleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				scheduleDueFeeds(ctx, runnerRepo, dispatcher)
			case <-ctx.Done():
				return
			}
		}
	}()

	go consume(ctx, dispatcher, orchestrator, quarantineSvc)

	logger.Log.Info("Feed Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Feed Worker...")
	cancel()
	logger.Log.Info("Feed Worker stopped")
}

func scheduleDueFeeds(ctx context.Context, repo *runner.Repository, dispatcher *dispatch.Dispatcher) {
	due, err := repo.ListDueFeeds(ctx, time.Now().UTC())
	if err != nil {
		logger.Log.WithError(err).Warn("failed to list due feeds")
		return
	}

	for _, feed := range due {
		active, err := dispatcher.HasActiveJob(ctx, feed.ID)
		if err != nil {
			logger.Log.WithError(err).WithField("feed_id", feed.ID).Warn("active-job check failed")
			continue
		}
		if active {
			continue
		}
		if _, err := dispatcher.EnqueueFeedRun(ctx, feed.ID, models.TriggerScheduled); err != nil {
			logger.Log.WithError(err).WithField("feed_id", feed.ID).Warn("failed to enqueue scheduled run")
		}
	}
}

func consume(ctx context.Context, dispatcher *dispatch.Dispatcher, orchestrator *runner.Orchestrator, quarantineSvc *quarantine.Service) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := dispatcher.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.WithError(err).Error("failed to dequeue job")
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		switch job.Type {
		case dispatch.JobTypeFeedRun:
			if _, err := orchestrator.Execute(ctx, job.FeedID, job.Trigger); err != nil {
				if errors.Is(err, runner.ErrFeedDisabled) {
					logger.Log.WithField("feed_id", job.FeedID).Warn("skipping run for disabled feed")
				} else {
					logger.Log.WithError(err).WithField("feed_id", job.FeedID).Error("feed run errored")
				}
			}
		case dispatch.JobTypeReprocess:
			result, err := quarantineSvc.Reprocess(ctx, job.RecordID)
			if err != nil {
				logger.Log.WithError(err).WithField("record_id", job.RecordID).Error("reprocess job errored")
			} else {
				logger.Log.WithFields(map[string]interface{}{
					"record_id": job.RecordID,
					"resolved":  result.Resolved,
					"reason":    result.Reason,
				}).Info("Reprocess job finished")
			}
		default:
			logger.Log.WithField("job_type", job.Type).Warn("unknown job type")
		}

		dispatcher.Complete(ctx, job)
	}
}

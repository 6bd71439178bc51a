package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/redis/go-redis/v9"
)

// Job types carried on the queue.
const (
	JobTypeFeedRun   = "feed_run"
	JobTypeReprocess = "batch_reprocess"
)

const (
	queueKey      = "feedgate:dispatch:queue"
	jobKeyPrefix  = "feedgate:dispatch:job:"
	feedKeyPrefix = "feedgate:dispatch:feed:"

	jobMarkerTTL = 24 * time.Hour
)

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	FeedID      string    `json:"feed_id,omitempty"`
	Trigger     string    `json:"trigger,omitempty"`
	RecordID    string    `json:"record_id,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// ReprocessJobID derives the job id deterministically from the record id so
// re-enqueuing the same record is a no-op at the dispatch layer.
func ReprocessJobID(recordID string) string {
	return "REPROCESS_" + recordID
}

// Dispatcher implements the job-runner contract on Redis: a list as the
// queue, SETNX markers for idempotent job keys, and a per-feed marker for
// the active-job check. The check-then-enqueue sequence is not atomic
// against a racing caller; duplicate runs are tolerated downstream through
// idempotent upserts.
type Dispatcher struct {
	client commands
}

// commands is the slice of the Redis client the dispatcher relies on,
// satisfied by *redis.Client.
type commands interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func NewDispatcher(client *redis.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

func (d *Dispatcher) EnqueueFeedRun(ctx context.Context, feedID, trigger string) (string, error) {
	job := Job{
		ID:         fmt.Sprintf("RUN_%s_%s", feedID, uuid.New().String()),
		Type:       JobTypeFeedRun,
		FeedID:     feedID,
		Trigger:    trigger,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := d.client.Set(ctx, feedKeyPrefix+feedID, job.ID, jobMarkerTTL).Err(); err != nil {
		return "", fmt.Errorf("marking feed active: %w", err)
	}
	if err := d.push(ctx, job); err != nil {
		// The job never made it onto the queue, so the marker must not stay
		// behind blocking manual triggers until its TTL runs out.
		if delErr := d.client.Del(ctx, feedKeyPrefix+feedID).Err(); delErr != nil {
			logger.Log.WithError(delErr).WithField("feed_id", feedID).Warn("failed to roll back active-job marker")
		}
		return "", err
	}

	logger.Log.WithFields(map[string]interface{}{
		"job_id":  job.ID,
		"feed_id": feedID,
		"trigger": trigger,
	}).Info("Feed run enqueued")

	return job.ID, nil
}

// HasActiveJob reports whether a run for the feed is waiting or executing.
// Callers consult this before enqueuing a manual run.
func (d *Dispatcher) HasActiveJob(ctx context.Context, feedID string) (bool, error) {
	exists, err := d.client.Exists(ctx, feedKeyPrefix+feedID).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// EnqueueBatchReprocess enqueues one job per record under its deterministic
// id. Records whose marker already exists are silently skipped and do not
// count toward the enqueued total.
func (d *Dispatcher) EnqueueBatchReprocess(ctx context.Context, recordIDs []string, triggeredBy string) (string, int, error) {
	batchID := uuid.New().String()
	enqueued := 0

	for _, recordID := range recordIDs {
		jobID := ReprocessJobID(recordID)
		created, err := d.client.SetNX(ctx, jobKeyPrefix+jobID, batchID, jobMarkerTTL).Result()
		if err != nil {
			return batchID, enqueued, fmt.Errorf("reserving job %s: %w", jobID, err)
		}
		if !created {
			continue
		}

		job := Job{
			ID:          jobID,
			Type:        JobTypeReprocess,
			RecordID:    recordID,
			BatchID:     batchID,
			TriggeredBy: triggeredBy,
			EnqueuedAt:  time.Now().UTC(),
		}
		if err := d.push(ctx, job); err != nil {
			return batchID, enqueued, err
		}
		enqueued++
	}

	logger.Log.WithFields(map[string]interface{}{
		"batch_id":       batchID,
		"requested":      len(recordIDs),
		"enqueued_count": enqueued,
	}).Info("Batch reprocess enqueued")

	return batchID, enqueued, nil
}

// Dequeue blocks up to timeout waiting for the next job. A nil job with a
// nil error means the wait timed out.
func (d *Dispatcher) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	values, err := d.client.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, fmt.Errorf("decoding job payload: %w", err)
	}
	return &job, nil
}

// Complete clears the job's markers so the feed can run again and a
// resolved record can be re-enqueued later.
func (d *Dispatcher) Complete(ctx context.Context, job *Job) {
	if job == nil {
		return
	}
	switch job.Type {
	case JobTypeFeedRun:
		if err := d.client.Del(ctx, feedKeyPrefix+job.FeedID).Err(); err != nil {
			logger.Log.WithError(err).WithField("feed_id", job.FeedID).Warn("failed to clear active-job marker")
		}
	case JobTypeReprocess:
		if err := d.client.Del(ctx, jobKeyPrefix+job.ID).Err(); err != nil {
			logger.Log.WithError(err).WithField("job_id", job.ID).Warn("failed to clear job marker")
		}
	}
}

func (d *Dispatcher) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}
	if err := d.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueueing job: %w", err)
	}
	return nil
}

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/priceloom/feedgate/pkg/breaker"
	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/connector"
	"github.com/priceloom/feedgate/pkg/identity"
	"github.com/priceloom/feedgate/pkg/validation"
	"gorm.io/datatypes"
)

var (
	ErrFeedDisabled  = errors.New("feed is disabled")
	ErrRunNotBlocked = errors.New("run is not blocked")
)

// FeedStore is the feed/run persistence the orchestrator consumes.
type FeedStore interface {
	GetFeed(ctx context.Context, id string) (*Feed, error)
	SaveFeed(ctx context.Context, feed *Feed) error
	CreateRun(ctx context.Context, run *FeedRun) error
	SaveRun(ctx context.Context, run *FeedRun) error
	GetRun(ctx context.Context, id string) (*FeedRun, error)
}

// CatalogStore is the catalog slice a run reads and promotes into.
type CatalogStore interface {
	Upsert(ctx context.Context, sku *catalog.RetailerSku) error
	CountActive(ctx context.Context, retailerID string) (int64, error)
	CountActiveSeen(ctx context.Context, retailerID string, hashes []string) (int64, error)
	DeactivateMissing(ctx context.Context, retailerID, runID string) (int64, error)
}

// Quarantiner persists soft validation failures.
type Quarantiner interface {
	Quarantine(ctx context.Context, feedID, retailerID string, record models.ParsedRecord, outcome models.ValidationOutcome) error
}

// Notifier raises the run-level notifications.
type Notifier interface {
	RunFailed(ctx context.Context, feedID, feedName, runErr string, consecutiveFailures int) error
	CircuitBreakerTriggered(ctx context.Context, feedID, feedName string, reasons []string, metrics models.CircuitBreakerMetrics) error
	FeedAutoDisabled(ctx context.Context, feedID, feedName string, consecutiveFailures int, lastError string) error
	FeedRecovered(ctx context.Context, feedID, feedName string, stats models.RunStats) error
}

// StagedSku is one would-be catalog write. Staged writes are committed only
// after the circuit check passes; on a blocked run they are serialized onto
// the run row for manual approval.
type StagedSku struct {
	SkuHash        string              `json:"sku_hash"`
	Record         models.ParsedRecord `json:"record"`
	CanonicalSkuID string              `json:"canonical_sku_id,omitempty"`
	Confidence     models.Confidence   `json:"confidence"`
	NeedsReview    bool                `json:"needs_review"`
	Method         string              `json:"method"`
}

// Orchestrator sequences one feed run: fetch, parse, validate, match,
// circuit-check, then promote or block. Every dependency is injected so the
// pipeline runs against fakes in tests.
type Orchestrator struct {
	feeds      FeedStore
	catalog    CatalogStore
	quarantine Quarantiner
	notifier   Notifier
	fetcher    Fetcher
	classifier *validation.Classifier
	matcher    catalog.Matcher
	breaker    *breaker.Breaker

	failureLimit int
}

func NewOrchestrator(
	feeds FeedStore,
	catalogStore CatalogStore,
	quarantiner Quarantiner,
	notifier Notifier,
	fetcher Fetcher,
	classifier *validation.Classifier,
	matcher catalog.Matcher,
	brk *breaker.Breaker,
	failureLimit int,
) *Orchestrator {
	if failureLimit <= 0 {
		failureLimit = 5
	}
	return &Orchestrator{
		feeds:        feeds,
		catalog:      catalogStore,
		quarantine:   quarantiner,
		notifier:     notifier,
		fetcher:      fetcher,
		classifier:   classifier,
		matcher:      matcher,
		breaker:      brk,
		failureLimit: failureLimit,
	}
}

// Execute runs the full pipeline for one feed. Fetch and parse failures are
// recorded on the run and the feed's failure streak rather than returned;
// only persistence problems surface as errors.
func (o *Orchestrator) Execute(ctx context.Context, feedID, trigger string) (*FeedRun, error) {
	feed, err := o.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if !feed.Enabled {
		return nil, ErrFeedDisabled
	}

	run := &FeedRun{FeedID: feed.ID, Trigger: trigger, Status: models.RunPending}
	if err := o.feeds.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":  run.ID,
		"feed_id": feed.ID,
		"trigger": trigger,
	}).Info("Feed run started")

	if err := o.setStatus(ctx, run, models.RunFetching); err != nil {
		return run, err
	}
	content, err := o.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return run, o.failRun(ctx, run, feed, err)
	}

	if err := o.setStatus(ctx, run, models.RunParsing); err != nil {
		return run, err
	}
	records, err := o.parse(feed, content)
	if err != nil {
		return run, o.failRun(ctx, run, feed, err)
	}

	// Fetch and parse succeeded: a prior failure streak is over. The
	// recovery notification goes out once the run settles.
	wasFailing := feed.ConsecutiveFailures > 0
	feed.ConsecutiveFailures = 0
	feed.LastError = ""

	if err := o.setStatus(ctx, run, models.RunValidating); err != nil {
		return run, err
	}
	run.Parsed = len(records)

	var indexable []indexableRecord
	for _, record := range records {
		outcome := o.classifier.Classify(record)
		switch {
		case outcome.IsIndexable:
			indexable = append(indexable, indexableRecord{record: record, outcome: outcome})
		case outcome.Quarantine:
			if err := o.quarantine.Quarantine(ctx, feed.ID, feed.RetailerID, record, outcome); err != nil {
				return run, o.abortRun(ctx, run, feed, fmt.Errorf("persisting quarantine record: %w", err))
			}
			run.Quarantined++
		default:
			run.Rejected++
		}
	}

	if err := o.setStatus(ctx, run, models.RunMatching); err != nil {
		return run, err
	}
	staged, seenHashes, urlHashFallbacks := o.matchAll(ctx, indexable)

	if err := o.setStatus(ctx, run, models.RunCircuitCheck); err != nil {
		return run, err
	}
	decision, err := o.circuitCheck(ctx, feed.RetailerID, seenHashes, int64(len(staged)), urlHashFallbacks)
	if err != nil {
		return run, o.abortRun(ctx, run, feed, fmt.Errorf("computing circuit breaker metrics: %w", err))
	}
	run.Metrics = mustJSON(decision.Metrics)

	if decision.Tripped {
		run.Status = models.RunBlocked
		run.BlockReasons = mustJSON(decision.Reasons)
		run.Promotions = mustJSON(staged)
		if err := o.feeds.SaveRun(ctx, run); err != nil {
			return run, err
		}

		logger.Log.WithFields(map[string]interface{}{
			"run_id":  run.ID,
			"feed_id": feed.ID,
			"reasons": decision.Reasons,
		}).Warn("Circuit breaker tripped; run blocked pending approval")

		if err := o.notifier.CircuitBreakerTriggered(ctx, feed.ID, feed.Name, decision.Reasons, decision.Metrics); err != nil {
			logger.Log.WithError(err).Warn("failed to send circuit breaker notification")
		}

		o.settleFeed(ctx, feed, wasFailing, o.statsOf(run))
		return run, nil
	}

	if err := o.setStatus(ctx, run, models.RunPromoting); err != nil {
		return run, err
	}
	indexed, deactivated, err := o.promote(ctx, run.ID, feed.RetailerID, staged)
	if err != nil {
		return run, o.abortRun(ctx, run, feed, fmt.Errorf("promoting run: %w", err))
	}

	run.Indexed = indexed
	run.Deactivated = int(deactivated)
	run.Status = models.RunCompleted
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		return run, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":      run.ID,
		"feed_id":     feed.ID,
		"parsed":      run.Parsed,
		"indexed":     run.Indexed,
		"quarantined": run.Quarantined,
		"rejected":    run.Rejected,
		"deactivated": run.Deactivated,
	}).Info("Feed run completed")

	o.settleFeed(ctx, feed, wasFailing, o.statsOf(run))
	return run, nil
}

type indexableRecord struct {
	record  models.ParsedRecord
	outcome models.ValidationOutcome
}

func (o *Orchestrator) parse(feed *Feed, content string) ([]models.ParsedRecord, error) {
	var conn connector.Connector
	if feed.Format != "" {
		c, err := connector.ForFormat(feed.Format)
		if err != nil {
			return nil, err
		}
		conn = c
	} else {
		conn = connector.ForContent(content)
	}
	return conn.Parse(content)
}

func (o *Orchestrator) matchAll(ctx context.Context, indexable []indexableRecord) ([]StagedSku, []string, int64) {
	staged := make([]StagedSku, 0, len(indexable))
	seenHashes := make([]string, 0, len(indexable))
	var urlHashFallbacks int64

	for _, item := range indexable {
		match := catalog.MatchResult{Confidence: models.ConfidenceNone, Method: catalog.MethodNone}
		if o.matcher != nil {
			result, err := o.matcher.Match(ctx, item.record)
			if err != nil {
				logger.Log.WithError(err).WithField("row_index", item.record.RowIndex).Warn("matcher failed; staging record unmatched")
			} else {
				match = result
			}
		}

		if match.Method == catalog.MethodURLHash {
			urlHashFallbacks++
		}

		hash := identity.SkuHash(item.record)
		staged = append(staged, StagedSku{
			SkuHash:        hash,
			Record:         item.record,
			CanonicalSkuID: match.CanonicalSkuID,
			Confidence:     match.Confidence,
			NeedsReview:    match.Confidence == models.ConfidenceLow || match.Confidence == models.ConfidenceMedium,
			Method:         match.Method,
		})
		seenHashes = append(seenHashes, hash)
	}

	return staged, seenHashes, urlHashFallbacks
}

func (o *Orchestrator) circuitCheck(ctx context.Context, retailerID string, seenHashes []string, seenSuccess, urlHashFallbacks int64) (breaker.Decision, error) {
	activeBefore, err := o.catalog.CountActive(ctx, retailerID)
	if err != nil {
		return breaker.Decision{}, err
	}
	seenActive, err := o.catalog.CountActiveSeen(ctx, retailerID, seenHashes)
	if err != nil {
		return breaker.Decision{}, err
	}

	metrics := models.CircuitBreakerMetrics{
		ActiveCountBefore:    activeBefore,
		SeenSuccessCount:     seenSuccess,
		WouldExpireCount:     activeBefore - seenActive,
		URLHashFallbackCount: urlHashFallbacks,
	}
	return o.breaker.Evaluate(metrics), nil
}

func (o *Orchestrator) promote(ctx context.Context, runID, retailerID string, staged []StagedSku) (int, int64, error) {
	indexed := 0
	for _, item := range staged {
		sku := &catalog.RetailerSku{
			RetailerID:        retailerID,
			SkuHash:           item.SkuHash,
			RawTitle:          item.Record.Title,
			RawPrice:          item.Record.Price,
			RawUPC:            item.Record.UPC,
			RawSKU:            item.Record.SKU,
			RawBrand:          item.Record.Brand,
			RawCategory:       item.Record.Category,
			RawImageURL:       item.Record.ImageURL,
			RawDescription:    item.Record.Description,
			InStock:           item.Record.InStock,
			MappingConfidence: item.Confidence,
			NeedsReview:       item.NeedsReview,
			LastRunID:         runID,
		}
		if item.CanonicalSkuID != "" {
			canonicalID := item.CanonicalSkuID
			sku.CanonicalSkuID = &canonicalID
		}
		if err := o.catalog.Upsert(ctx, sku); err != nil {
			return indexed, 0, err
		}
		indexed++
	}

	deactivated, err := o.catalog.DeactivateMissing(ctx, retailerID, runID)
	if err != nil {
		return indexed, 0, err
	}
	return indexed, deactivated, nil
}

// Approve commits the withheld promotion set of a blocked run.
func (o *Orchestrator) Approve(ctx context.Context, runID string) (*FeedRun, error) {
	run, err := o.feeds.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunBlocked {
		return nil, ErrRunNotBlocked
	}

	feed, err := o.feeds.GetFeed(ctx, run.FeedID)
	if err != nil {
		return nil, err
	}

	var staged []StagedSku
	if len(run.Promotions) > 0 {
		if err := json.Unmarshal(run.Promotions, &staged); err != nil {
			return nil, fmt.Errorf("decoding staged promotions: %w", err)
		}
	}

	indexed, deactivated, err := o.promote(ctx, run.ID, feed.RetailerID, staged)
	if err != nil {
		return run, fmt.Errorf("promoting approved run: %w", err)
	}

	run.Indexed = indexed
	run.Deactivated = int(deactivated)
	run.Status = models.RunCompleted
	run.Promotions = nil
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		return run, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":  run.ID,
		"feed_id": feed.ID,
		"indexed": indexed,
	}).Info("Blocked run approved and promoted")

	return run, nil
}

// Discard drops a blocked run's withheld changes without committing them.
func (o *Orchestrator) Discard(ctx context.Context, runID string) (*FeedRun, error) {
	run, err := o.feeds.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunBlocked {
		return nil, ErrRunNotBlocked
	}

	run.Status = models.RunFailed
	run.Error = "blocked run discarded by operator"
	run.Promotions = nil
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// ReactivateFeed re-enables an auto-disabled feed. This is a manual
// operator action; recovery is never automatic.
func (o *Orchestrator) ReactivateFeed(ctx context.Context, feedID string) (*Feed, error) {
	feed, err := o.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}

	feed.Enabled = true
	feed.ConsecutiveFailures = 0
	feed.LastError = ""
	feed.DisabledAt = nil
	if err := o.feeds.SaveFeed(ctx, feed); err != nil {
		return nil, err
	}
	return feed, nil
}

func (o *Orchestrator) setStatus(ctx context.Context, run *FeedRun, status string) error {
	run.Status = status
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("advancing run to %s: %w", status, err)
	}
	return nil
}

// abortRun records a failure internal to the pipeline (a database write or
// read went wrong). The run ends FAILED but the feed's failure streak is not
// touched: the streak and the auto-disable gate track upstream feed health
// only, and a local storage blip must never take a healthy feed offline.
func (o *Orchestrator) abortRun(ctx context.Context, run *FeedRun, feed *Feed, cause error) error {
	run.Status = models.RunFailed
	run.Error = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		logger.Log.WithError(err).Error("failed to persist failed run")
	}

	logger.Log.WithFields(map[string]interface{}{
		"run_id":  run.ID,
		"feed_id": feed.ID,
		"error":   cause.Error(),
	}).Error("Feed run aborted on internal error")

	if err := o.notifier.RunFailed(ctx, feed.ID, feed.Name, cause.Error(), feed.ConsecutiveFailures); err != nil {
		logger.Log.WithError(err).Warn("failed to send run-failed notification")
	}

	return nil
}

// failRun records a fetch or parse failure, bumps the feed's failure
// streak, and auto-disables the feed once the streak crosses the limit.
// The returned error is always nil: the failure is fully recorded state.
func (o *Orchestrator) failRun(ctx context.Context, run *FeedRun, feed *Feed, cause error) error {
	run.Status = models.RunFailed
	run.Error = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := o.feeds.SaveRun(ctx, run); err != nil {
		logger.Log.WithError(err).Error("failed to persist failed run")
	}

	feed.ConsecutiveFailures++
	feed.LastError = cause.Error()

	logger.Log.WithFields(map[string]interface{}{
		"run_id":               run.ID,
		"feed_id":              feed.ID,
		"error":                cause.Error(),
		"consecutive_failures": feed.ConsecutiveFailures,
	}).Error("Feed run failed")

	if err := o.notifier.RunFailed(ctx, feed.ID, feed.Name, cause.Error(), feed.ConsecutiveFailures); err != nil {
		logger.Log.WithError(err).Warn("failed to send run-failed notification")
	}

	if feed.Enabled && feed.ConsecutiveFailures >= o.failureLimit {
		feed.Enabled = false
		feed.DisabledAt = &now
		logger.Log.WithFields(map[string]interface{}{
			"feed_id":              feed.ID,
			"consecutive_failures": feed.ConsecutiveFailures,
		}).Warn("Feed auto-disabled after repeated failures")

		if err := o.notifier.FeedAutoDisabled(ctx, feed.ID, feed.Name, feed.ConsecutiveFailures, feed.LastError); err != nil {
			logger.Log.WithError(err).Warn("failed to send auto-disable notification")
		}
	}

	if err := o.feeds.SaveFeed(ctx, feed); err != nil {
		logger.Log.WithError(err).Error("failed to persist feed failure state")
	}

	return nil
}

// settleFeed persists post-run feed state and raises the recovery
// notification when a failure streak just ended.
func (o *Orchestrator) settleFeed(ctx context.Context, feed *Feed, wasFailing bool, stats models.RunStats) {
	now := time.Now().UTC()
	feed.LastRunAt = &now
	if err := o.feeds.SaveFeed(ctx, feed); err != nil {
		logger.Log.WithError(err).Error("failed to persist feed state")
	}

	if wasFailing {
		if err := o.notifier.FeedRecovered(ctx, feed.ID, feed.Name, stats); err != nil {
			logger.Log.WithError(err).Warn("failed to send recovery notification")
		}
	}
}

func (o *Orchestrator) statsOf(run *FeedRun) models.RunStats {
	return models.RunStats{
		Parsed:      run.Parsed,
		Indexed:     run.Indexed,
		Quarantined: run.Quarantined,
		Rejected:    run.Rejected,
		Deactivated: run.Deactivated,
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

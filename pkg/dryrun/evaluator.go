package dryrun

import (
	"context"
	"encoding/json"
	"time"

	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/connector"
	"github.com/priceloom/feedgate/pkg/runner"
	"github.com/priceloom/feedgate/pkg/validation"
	"gorm.io/datatypes"
)

const (
	passRatio = 0.90
	warnRatio = 0.50
)

// FeedSource resolves the feed definition to evaluate.
type FeedSource interface {
	GetFeed(ctx context.Context, id string) (*runner.Feed, error)
}

// Store persists the audit record.
type Store interface {
	Create(ctx context.Context, run *TestRun) error
}

// Evaluator previews feed health: parse plus validate over a bounded
// sample, nothing else. It never touches the catalog or quarantine.
type Evaluator struct {
	feeds      FeedSource
	store      Store
	fetcher    runner.Fetcher
	classifier *validation.Classifier

	sampleSize  int
	errorSample int
}

func NewEvaluator(feeds FeedSource, store Store, fetcher runner.Fetcher, classifier *validation.Classifier, sampleSize, errorSample int) *Evaluator {
	if sampleSize <= 0 {
		sampleSize = 50
	}
	if errorSample <= 0 {
		errorSample = 10
	}
	return &Evaluator{
		feeds:       feeds,
		store:       store,
		fetcher:     fetcher,
		classifier:  classifier,
		sampleSize:  sampleSize,
		errorSample: errorSample,
	}
}

// Evaluate fetches the feed and classifies the first sampleSize records.
// Parse failures still yield a structured FAIL result with the failure
// captured as an error sample.
func (e *Evaluator) Evaluate(ctx context.Context, feedID string) (*TestRun, error) {
	feed, err := e.feeds.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	content, err := e.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return nil, err
	}

	result := &TestRun{FeedID: feed.ID}

	records, parseErr := e.parse(feed, content)
	if parseErr != nil {
		result.Status = models.DryRunFail
		result.ErrorSamples = mustJSON([]ErrorSample{{
			Code:    "PARSE_ERROR",
			Message: parseErr.Error(),
		}})
		result.DurationMs = time.Since(start).Milliseconds()
		if err := e.store.Create(ctx, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	if len(records) > e.sampleSize {
		records = records[:e.sampleSize]
	}
	result.SampleSize = len(records)

	var samples []ErrorSample
	outcomes := make([]models.ValidationOutcome, 0, len(records))
	for _, record := range records {
		outcome := e.classifier.Classify(record)
		outcomes = append(outcomes, outcome)

		switch {
		case outcome.IsIndexable:
			result.WouldIndex++
		case outcome.Quarantine:
			result.WouldQuarantine++
		default:
			result.WouldReject++
		}

		for _, fieldErr := range outcome.Errors {
			if len(samples) >= e.errorSample {
				break
			}
			samples = append(samples, ErrorSample{
				RowIndex: record.RowIndex,
				Field:    fieldErr.Field,
				Code:     fieldErr.Code,
				Message:  fieldErr.Message,
			})
		}
	}

	result.Status = verdict(result.WouldIndex, result.SampleSize)
	if len(samples) > 0 {
		result.ErrorSamples = mustJSON(samples)
	}

	summary := validation.SummarizeCoercions(outcomes)
	if len(summary) > 0 {
		coercions := make(datatypes.JSONMap, len(summary))
		for key, count := range summary {
			coercions[key] = count
		}
		result.CoercionSummary = coercions
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if err := e.store.Create(ctx, result); err != nil {
		return nil, err
	}

	logger.Log.WithFields(map[string]interface{}{
		"feed_id":     feed.ID,
		"status":      result.Status,
		"sample_size": result.SampleSize,
		"would_index": result.WouldIndex,
	}).Info("Dry run evaluated")

	return result, nil
}

func (e *Evaluator) parse(feed *runner.Feed, content string) ([]models.ParsedRecord, error) {
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

func verdict(wouldIndex, sampleSize int) string {
	if sampleSize == 0 {
		return models.DryRunFail
	}
	ratio := float64(wouldIndex) / float64(sampleSize)
	switch {
	case ratio >= passRatio:
		return models.DryRunPass
	case ratio >= warnRatio:
		return models.DryRunWarn
	default:
		return models.DryRunFail
	}
}

func mustJSON(v interface{}) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

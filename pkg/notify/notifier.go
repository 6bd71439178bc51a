package notify

import (
	"context"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// Event types published on the notification topic.
const (
	EventRunFailed               = "run_failed"
	EventCircuitBreakerTriggered = "circuit_breaker_triggered"
	EventFeedAutoDisabled        = "feed_auto_disabled"
	EventFeedRecovered           = "feed_recovered"
)

const source = "feed-pipeline"

// Publisher is satisfied by the Kafka producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Notifier raises operational notifications. Delivery mechanics (email,
// Slack fan-out) live behind the topic and are not this service's concern.
type Notifier struct {
	publisher Publisher
}

func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) RunFailed(ctx context.Context, feedID, feedName string, runErr string, consecutiveFailures int) error {
	return n.publisher.PublishEvent(ctx, EventRunFailed, source, map[string]interface{}{
		"feed_id":              feedID,
		"feed_name":            feedName,
		"error":                runErr,
		"consecutive_failures": consecutiveFailures,
	})
}

func (n *Notifier) CircuitBreakerTriggered(ctx context.Context, feedID, feedName string, reasons []string, metrics models.CircuitBreakerMetrics) error {
	return n.publisher.PublishEvent(ctx, EventCircuitBreakerTriggered, source, map[string]interface{}{
		"feed_id":   feedID,
		"feed_name": feedName,
		"reasons":   reasons,
		"metrics":   metrics,
	})
}

func (n *Notifier) FeedAutoDisabled(ctx context.Context, feedID, feedName string, consecutiveFailures int, lastError string) error {
	return n.publisher.PublishEvent(ctx, EventFeedAutoDisabled, source, map[string]interface{}{
		"feed_id":              feedID,
		"feed_name":            feedName,
		"consecutive_failures": consecutiveFailures,
		"last_error":           lastError,
	})
}

func (n *Notifier) FeedRecovered(ctx context.Context, feedID, feedName string, stats models.RunStats) error {
	return n.publisher.PublishEvent(ctx, EventFeedRecovered, source, map[string]interface{}{
		"feed_id":   feedID,
		"feed_name": feedName,
		"stats":     stats,
	})
}

package runner

import (
	"time"

	"gorm.io/datatypes"
)

// Feed is a registered retailer or affiliate feed. Feeds are declared in
// the YAML registry and synced into this table; the failure counter and
// enabled flag are runtime state the registry never overwrites.
type Feed struct {
	ID                  string     `json:"id" gorm:"primaryKey;column:id"`
	Name                string     `json:"name" gorm:"column:name"`
	RetailerID          string     `json:"retailer_id" gorm:"column:retailer_id;index"`
	URL                 string     `json:"url" gorm:"column:url"`
	Format              string     `json:"format,omitempty" gorm:"column:format"` // empty means sniff
	Enabled             bool       `json:"enabled" gorm:"column:enabled"`
	IntervalMinutes     int        `json:"interval_minutes" gorm:"column:interval_minutes"`
	ConsecutiveFailures int        `json:"consecutive_failures" gorm:"column:consecutive_failures"`
	LastError           string     `json:"last_error,omitempty" gorm:"column:last_error"`
	DisabledAt          *time.Time `json:"disabled_at,omitempty" gorm:"column:disabled_at"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty" gorm:"column:last_run_at"`
	CreatedAt           time.Time  `json:"created_at" gorm:"column:created_at"`
	UpdatedAt           time.Time  `json:"updated_at" gorm:"column:updated_at"`
}

func (Feed) TableName() string {
	return "feeds"
}

// FeedRun is one discrete ingestion attempt. When the circuit breaker
// blocks a run, the staged promotion set is kept on the row so a manual
// approval can replay it.
type FeedRun struct {
	ID           string         `json:"id" gorm:"primaryKey;column:id"`
	FeedID       string         `json:"feed_id" gorm:"column:feed_id;index"`
	Trigger      string         `json:"trigger" gorm:"column:trigger"`
	Status       string         `json:"status" gorm:"column:status;index"`
	Error        string         `json:"error,omitempty" gorm:"column:error"`
	Parsed       int            `json:"parsed" gorm:"column:parsed"`
	Indexed      int            `json:"indexed" gorm:"column:indexed"`
	Quarantined  int            `json:"quarantined" gorm:"column:quarantined"`
	Rejected     int            `json:"rejected" gorm:"column:rejected"`
	Deactivated  int            `json:"deactivated" gorm:"column:deactivated"`
	Metrics      datatypes.JSON `json:"metrics,omitempty" gorm:"column:metrics"`
	BlockReasons datatypes.JSON `json:"block_reasons,omitempty" gorm:"column:block_reasons"`
	Promotions   datatypes.JSON `json:"-" gorm:"column:promotions"`
	StartedAt    time.Time      `json:"started_at" gorm:"column:started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (FeedRun) TableName() string {
	return "feed_runs"
}

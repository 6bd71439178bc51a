package dryrun

import (
	"time"

	"gorm.io/datatypes"
)

// TestRun is the persisted audit record of one dry run. It is the only
// thing a dry run ever writes: no catalog rows, no quarantine records.
type TestRun struct {
	ID              string            `json:"id" gorm:"primaryKey;column:id"`
	FeedID          string            `json:"feed_id" gorm:"column:feed_id;index"`
	SampleSize      int               `json:"sample_size" gorm:"column:sample_size"`
	Status          string            `json:"status" gorm:"column:status"`
	WouldIndex      int               `json:"would_index" gorm:"column:would_index"`
	WouldQuarantine int               `json:"would_quarantine" gorm:"column:would_quarantine"`
	WouldReject     int               `json:"would_reject" gorm:"column:would_reject"`
	ErrorSamples    datatypes.JSON    `json:"error_samples,omitempty" gorm:"column:error_samples"`
	CoercionSummary datatypes.JSONMap `json:"coercion_summary,omitempty" gorm:"column:coercion_summary"`
	DurationMs      int64             `json:"duration_ms" gorm:"column:duration_ms"`
	CreatedAt       time.Time         `json:"created_at" gorm:"column:created_at"`
}

func (TestRun) TableName() string {
	return "test_runs"
}

// ErrorSample is one captured per-record validation failure, at most ten
// per dry run.
type ErrorSample struct {
	RowIndex int    `json:"row_index"`
	Field    string `json:"field"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

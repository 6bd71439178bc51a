package quarantine

import (
	"time"

	"gorm.io/datatypes"
)

// QuarantinedRecord holds a plausible-but-unsafe feed record until an
// operator corrects or dismisses it. RESOLVED and DISMISSED are terminal.
type QuarantinedRecord struct {
	ID           string            `json:"id" gorm:"primaryKey;column:id"`
	FeedID       string            `json:"feed_id" gorm:"column:feed_id;index"`
	RetailerID   string            `json:"retailer_id" gorm:"column:retailer_id;index"`
	MatchKey     string            `json:"match_key" gorm:"column:match_key;index"`
	ParsedFields datatypes.JSONMap `json:"parsed_fields" gorm:"column:parsed_fields"`
	Errors       datatypes.JSON    `json:"errors,omitempty" gorm:"column:errors"`
	Status       string            `json:"status" gorm:"column:status;index"`
	RowIndex     int               `json:"row_index" gorm:"column:row_index"`
	CreatedAt    time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time         `json:"updated_at" gorm:"column:updated_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty" gorm:"column:resolved_at"`
}

func (QuarantinedRecord) TableName() string {
	return "quarantined_records"
}

// FeedCorrection is one append-only, field-level manual override. Multiple
// corrections may target the same field; the most recently created one wins
// when the record is reprocessed.
type FeedCorrection struct {
	ID                  string    `json:"id" gorm:"primaryKey;column:id"`
	QuarantinedRecordID string    `json:"quarantined_record_id" gorm:"column:quarantined_record_id;index"`
	Field               string    `json:"field" gorm:"column:field"`
	OldValue            string    `json:"old_value" gorm:"column:old_value"`
	NewValue            string    `json:"new_value" gorm:"column:new_value"`
	CreatedBy           string    `json:"created_by" gorm:"column:created_by"`
	CreatedAt           time.Time `json:"created_at" gorm:"column:created_at"`
}

func (FeedCorrection) TableName() string {
	return "feed_corrections"
}

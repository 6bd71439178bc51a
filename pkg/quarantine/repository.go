package quarantine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/priceloom/feedgate/pkg/common/models"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound     = errors.New("quarantined record not found")
	ErrCorrectionNotFound = errors.New("correction not found")
	ErrTerminalState      = errors.New("record is already resolved or dismissed")
)

type ListFilter struct {
	FeedID string
	Status string
	Search string
	Limit  int
	Offset int
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&QuarantinedRecord{}, &FeedCorrection{})
}

func (r *Repository) Create(ctx context.Context, rec *QuarantinedRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.QuarantineOpen
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*QuarantinedRecord, error) {
	var rec QuarantinedRecord
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	return &rec, result.Error
}

func (r *Repository) List(ctx context.Context, filter ListFilter) ([]QuarantinedRecord, error) {
	query := r.db.WithContext(ctx).Model(&QuarantinedRecord{})
	if filter.FeedID != "" {
		query = query.Where("feed_id = ?", filter.FeedID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Search != "" {
		query = query.Where("match_key ILIKE ?", "%"+filter.Search+"%")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []QuarantinedRecord
	result := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&records)
	return records, result.Error
}

// CountByStatus returns per-status totals, optionally scoped to one feed.
func (r *Repository) CountByStatus(ctx context.Context, feedID string) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Total  int64
	}

	query := r.db.WithContext(ctx).Model(&QuarantinedRecord{}).
		Select("status, count(*) as total").Group("status")
	if feedID != "" {
		query = query.Where("feed_id = ?", feedID)
	}

	var rows []statusCount
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.QuarantineOpen:      0,
		models.QuarantineResolved:  0,
		models.QuarantineDismissed: 0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// Transition moves a record out of QUARANTINED. The guard on the current
// status makes terminal states final at the storage layer, not just in the
// service.
func (r *Repository) Transition(ctx context.Context, id, status string) error {
	if status != models.QuarantineResolved && status != models.QuarantineDismissed {
		return fmt.Errorf("invalid target status %q", status)
	}

	now := time.Now().UTC()
	result := r.db.WithContext(ctx).Model(&QuarantinedRecord{}).
		Where("id = ? AND status = ?", id, models.QuarantineOpen).
		Updates(map[string]interface{}{
			"status":      status,
			"updated_at":  now,
			"resolved_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrTerminalState
	}
	return nil
}

func (r *Repository) CreateCorrection(ctx context.Context, correction *FeedCorrection) error {
	if correction.ID == "" {
		correction.ID = uuid.New().String()
	}
	correction.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(correction).Error
}

func (r *Repository) DeleteCorrection(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&FeedCorrection{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCorrectionNotFound
	}
	return nil
}

// ListCorrections returns the ledger for one record in creation order, so
// the latest row per field wins when applied in sequence.
func (r *Repository) ListCorrections(ctx context.Context, recordID string) ([]FeedCorrection, error) {
	var corrections []FeedCorrection
	result := r.db.WithContext(ctx).
		Where("quarantined_record_id = ?", recordID).
		Order("created_at ASC").
		Find(&corrections)
	return corrections, result.Error
}

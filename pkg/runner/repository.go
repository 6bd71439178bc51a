package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrFeedNotFound = errors.New("feed not found")
	ErrRunNotFound  = errors.New("feed run not found")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Feed{}, &FeedRun{})
}

func (r *Repository) GetFeed(ctx context.Context, id string) (*Feed, error) {
	var feed Feed
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&feed)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrFeedNotFound
	}
	return &feed, result.Error
}

func (r *Repository) ListFeeds(ctx context.Context) ([]Feed, error) {
	var feeds []Feed
	result := r.db.WithContext(ctx).Order("id ASC").Find(&feeds)
	return feeds, result.Error
}

// ListDueFeeds returns enabled feeds whose schedule interval has elapsed.
func (r *Repository) ListDueFeeds(ctx context.Context, now time.Time) ([]Feed, error) {
	var feeds []Feed
	result := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("interval_minutes > 0").
		Where("last_run_at IS NULL OR last_run_at <= ?", now.Add(-time.Minute)).
		Find(&feeds)
	if result.Error != nil {
		return nil, result.Error
	}

	due := feeds[:0]
	for _, feed := range feeds {
		if feed.LastRunAt == nil || now.Sub(*feed.LastRunAt) >= time.Duration(feed.IntervalMinutes)*time.Minute {
			due = append(due, feed)
		}
	}
	return due, nil
}

func (r *Repository) SaveFeed(ctx context.Context, feed *Feed) error {
	feed.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(feed).Error
}

// UpsertFeedConfig syncs one registry entry. Only declarative columns are
// written on conflict; runtime state (enabled, failure counter, last run)
// stays untouched.
func (r *Repository) UpsertFeedConfig(ctx context.Context, feed *Feed) error {
	now := time.Now().UTC()
	feed.CreatedAt = now
	feed.UpdatedAt = now
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "retailer_id", "url", "format", "interval_minutes", "updated_at",
		}),
	}).Create(feed).Error
}

func (r *Repository) CreateRun(ctx context.Context, run *FeedRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	run.CreatedAt = now
	run.UpdatedAt = now
	run.StartedAt = now
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) SaveRun(ctx context.Context, run *FeedRun) error {
	run.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(run).Error
}

func (r *Repository) GetRun(ctx context.Context, id string) (*FeedRun, error) {
	var run FeedRun
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&run)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) ListRuns(ctx context.Context, feedID string, limit int) ([]FeedRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query := r.db.WithContext(ctx).Model(&FeedRun{})
	if feedID != "" {
		query = query.Where("feed_id = ?", feedID)
	}
	var runs []FeedRun
	result := query.Order("created_at DESC").Limit(limit).Find(&runs)
	return runs, result.Error
}

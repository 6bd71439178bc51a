package dryrun

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrTestRunNotFound = errors.New("test run not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&TestRun{})
}

func (r *Repository) Create(ctx context.Context, run *TestRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*TestRun, error) {
	var run TestRun
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&run)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrTestRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) ListByFeed(ctx context.Context, feedID string, limit int) ([]TestRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []TestRun
	result := r.db.WithContext(ctx).
		Where("feed_id = ?", feedID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs)
	return runs, result.Error
}

package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/priceloom/feedgate/pkg/common/models"
)

var ErrSkuNotFound = errors.New("retailer sku not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RetailerSku{}, &CanonicalSku{})
}

// Upsert writes a retailer SKU keyed by (retailer_id, sku_hash). Replaying
// the same logical product updates the existing row, which is what makes
// duplicate dispatches harmless.
func (r *Repository) Upsert(ctx context.Context, sku *RetailerSku) error {
	if sku.ID == "" {
		sku.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	sku.CreatedAt = now
	sku.UpdatedAt = now
	sku.IsActive = true

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "retailer_id"}, {Name: "sku_hash"}},
		DoUpdates: skuConflictUpdates(),
	}).Create(sku).Error
}

// mappingColumns hold operator-visible matching state. Once a mapping has been
// confirmed at HIGH confidence (a manual Map or an Approve) a re-ingest must
// not roll it back to whatever the automatic matcher produced this run.
var mappingColumns = []string{"canonical_sku_id", "mapping_confidence", "needs_review"}

func skuConflictUpdates() clause.Set {
	set := clause.AssignmentColumns([]string{
		"raw_title", "raw_price", "raw_upc", "raw_sku", "raw_brand",
		"raw_category", "raw_image_url", "raw_description", "in_stock",
		"is_active", "last_run_id", "updated_at",
	})
	for _, col := range mappingColumns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value: gorm.Expr("CASE WHEN retailer_skus.mapping_confidence = '" + string(models.ConfidenceHigh) +
				"' THEN retailer_skus." + col + " ELSE excluded." + col + " END"),
		})
	}
	return set
}

func (r *Repository) Get(ctx context.Context, id string) (*RetailerSku, error) {
	var sku RetailerSku
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&sku)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSkuNotFound
	}
	return &sku, result.Error
}

func (r *Repository) Save(ctx context.Context, sku *RetailerSku) error {
	sku.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(sku).Error
}

func (r *Repository) CountActive(ctx context.Context, retailerID string) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&RetailerSku{}).
		Where("retailer_id = ? AND is_active = ?", retailerID, true).
		Count(&count)
	return count, result.Error
}

// CountActiveSeen counts active rows whose hash appeared in the current run.
// The orchestrator derives the would-expire count from the difference.
func (r *Repository) CountActiveSeen(ctx context.Context, retailerID string, hashes []string) (int64, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	var count int64
	result := r.db.WithContext(ctx).Model(&RetailerSku{}).
		Where("retailer_id = ? AND is_active = ? AND sku_hash IN ?", retailerID, true, hashes).
		Count(&count)
	return count, result.Error
}

// DeactivateMissing flips rows absent from the promoted run to inactive.
// Rows stay in place so a later run can revive them.
func (r *Repository) DeactivateMissing(ctx context.Context, retailerID, runID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&RetailerSku{}).
		Where("retailer_id = ? AND is_active = ? AND last_run_id <> ?", retailerID, true, runID).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) FindCanonicalByUPC(ctx context.Context, upc string) (*CanonicalSku, error) {
	var sku CanonicalSku
	result := r.db.WithContext(ctx).Where("upc = ?", upc).First(&sku)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrSkuNotFound
	}
	return &sku, result.Error
}

func (r *Repository) RecentCanonical(ctx context.Context, limit int) ([]CanonicalSku, error) {
	if limit <= 0 {
		limit = 100
	}
	var skus []CanonicalSku
	result := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&skus)
	return skus, result.Error
}

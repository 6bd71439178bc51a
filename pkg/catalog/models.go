package catalog

import (
	"time"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// RetailerSku is the persisted, retailer-scoped catalog row. Rows are keyed
// by (retailer_id, sku_hash) so re-ingesting the same logical product always
// lands on the same row. Rows are deactivated, never deleted.
type RetailerSku struct {
	ID                string            `json:"id" gorm:"primaryKey;column:id"`
	RetailerID        string            `json:"retailer_id" gorm:"column:retailer_id;uniqueIndex:idx_retailer_sku_hash"`
	SkuHash           string            `json:"sku_hash" gorm:"column:sku_hash;uniqueIndex:idx_retailer_sku_hash"`
	RawTitle          string            `json:"raw_title" gorm:"column:raw_title"`
	RawPrice          float64           `json:"raw_price" gorm:"column:raw_price"`
	RawUPC            string            `json:"raw_upc" gorm:"column:raw_upc"`
	RawSKU            string            `json:"raw_sku" gorm:"column:raw_sku"`
	RawBrand          string            `json:"raw_brand" gorm:"column:raw_brand"`
	RawCategory       string            `json:"raw_category" gorm:"column:raw_category"`
	RawImageURL       string            `json:"raw_image_url" gorm:"column:raw_image_url"`
	RawDescription    string            `json:"raw_description" gorm:"column:raw_description"`
	InStock           bool              `json:"in_stock" gorm:"column:in_stock"`
	IsActive          bool              `json:"is_active" gorm:"column:is_active"`
	CanonicalSkuID    *string           `json:"canonical_sku_id,omitempty" gorm:"column:canonical_sku_id"`
	MappingConfidence models.Confidence `json:"mapping_confidence" gorm:"column:mapping_confidence"`
	NeedsReview       bool              `json:"needs_review" gorm:"column:needs_review"`
	LastRunID         string            `json:"last_run_id" gorm:"column:last_run_id"`
	CreatedAt         time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (RetailerSku) TableName() string {
	return "retailer_skus"
}

// CanonicalSku is the retailer-independent product identity retailer SKUs
// may be mapped to.
type CanonicalSku struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id"`
	Title     string    `json:"title" gorm:"column:title"`
	UPC       string    `json:"upc" gorm:"column:upc;index"`
	Brand     string    `json:"brand" gorm:"column:brand"`
	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
}

func (CanonicalSku) TableName() string {
	return "canonical_skus"
}

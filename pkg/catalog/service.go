package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

var (
	ErrNotUpgradeable = errors.New("mapping confidence cannot be approved from its current grade")
	ErrMissingTarget  = errors.New("canonical sku id required")
)

// Service exposes the manual mapping actions operators take on retailer
// SKUs. Automatic matching happens during runs; these calls override it.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Map links a retailer SKU to a canonical product at HIGH confidence and
// clears the review flag.
func (s *Service) Map(ctx context.Context, skuID, canonicalSkuID string) (*RetailerSku, error) {
	canonicalSkuID = strings.TrimSpace(canonicalSkuID)
	if canonicalSkuID == "" {
		return nil, ErrMissingTarget
	}

	sku, err := s.repo.Get(ctx, skuID)
	if err != nil {
		return nil, err
	}

	sku.CanonicalSkuID = &canonicalSkuID
	sku.MappingConfidence = models.ConfidenceHigh
	sku.NeedsReview = false
	if err := s.repo.Save(ctx, sku); err != nil {
		return nil, err
	}
	return sku, nil
}

// Approve confirms an automatic LOW or MEDIUM match, upgrading it to HIGH
// without touching the canonical link.
func (s *Service) Approve(ctx context.Context, skuID string) (*RetailerSku, error) {
	sku, err := s.repo.Get(ctx, skuID)
	if err != nil {
		return nil, err
	}

	if !sku.MappingConfidence.AtLeast(models.ConfidenceLow) || sku.MappingConfidence == models.ConfidenceHigh {
		return nil, ErrNotUpgradeable
	}

	sku.MappingConfidence = models.ConfidenceHigh
	sku.NeedsReview = false
	if err := s.repo.Save(ctx, sku); err != nil {
		return nil, err
	}
	return sku, nil
}

// Unmap severs the canonical link entirely.
func (s *Service) Unmap(ctx context.Context, skuID string) (*RetailerSku, error) {
	sku, err := s.repo.Get(ctx, skuID)
	if err != nil {
		return nil, err
	}

	sku.CanonicalSkuID = nil
	sku.MappingConfidence = models.ConfidenceNone
	sku.NeedsReview = false
	if err := s.repo.Save(ctx, sku); err != nil {
		return nil, err
	}
	return sku, nil
}

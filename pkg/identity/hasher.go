package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

const (
	hashSeparator = "\x1f"
	hashHexLen    = 32
)

// SkuHash fingerprints a normalized record for idempotent upsert. The same
// retailer/title/UPC/SKU/price always hashes to the same value no matter
// which feed format produced the record.
func SkuHash(record models.ParsedRecord) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(record.Title)),
		record.UPC,
		record.SKU,
		strconv.FormatFloat(record.Price, 'f', 2, 64),
	}

	digest := sha256.Sum256([]byte(strings.Join(parts, hashSeparator)))
	return hex.EncodeToString(digest[:])[:hashHexLen]
}

// MatchKey is the human-stable key stored on quarantined records so
// operators can recognize a product across reprocessing attempts. It prefers
// strong identifiers and falls back to the normalized title.
func MatchKey(record models.ParsedRecord) string {
	if upc := strings.TrimSpace(record.UPC); upc != "" {
		return "upc:" + upc
	}
	if sku := strings.TrimSpace(record.SKU); sku != "" {
		return "sku:" + sku
	}
	return "title:" + strings.ToLower(strings.TrimSpace(record.Title))
}

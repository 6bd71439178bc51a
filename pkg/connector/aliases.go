package connector

import (
	"strconv"
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// Ordered alias lists per canonical field. Resolution walks the list in
// priority order and the first non-empty value wins. Lists are lowercase;
// row keys are normalized before lookup.
var (
	titleAliases       = []string{"title", "product name", "productname", "name"}
	priceAliases       = []string{"price", "sale price", "saleprice", "current price", "amount"}
	upcAliases         = []string{"upc", "upc code", "gtin", "ean", "barcode"}
	skuAliases         = []string{"sku", "sku id", "item number", "itemnumber", "product id", "productid", "id"}
	brandAliases       = []string{"brand", "manufacturer", "brand name"}
	categoryAliases    = []string{"category", "product category", "product type", "department"}
	imageAliases       = []string{"image url", "imageurl", "image", "image link", "thumbnail"}
	descriptionAliases = []string{"description", "product description", "long description", "summary"}
	stockAliases       = []string{"in stock", "instock", "availability", "available", "stock status", "stock", "quantity"}
)

var truthyStockTokens = map[string]struct{}{
	"true":      {},
	"yes":       {},
	"in stock":  {},
	"available": {},
	"1":         {},
	"y":         {},
	"instock":   {},
}

// normalizeKey lowercases and trims a source column name; squashKey
// additionally strips separators so "Product_Name", "product-name" and
// "Product Name" all collide onto the same alias.
func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func squashKey(key string) string {
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "")
	return replacer.Replace(normalizeKey(key))
}

// row is one source record as raw column name / value pairs.
type row map[string]string

func newRow() row {
	return make(row)
}

func (r row) set(key, value string) {
	norm := normalizeKey(key)
	if norm == "" {
		return
	}
	if _, exists := r[norm]; !exists {
		r[norm] = value
	}
	squashed := squashKey(key)
	if _, exists := r[squashed]; !exists {
		r[squashed] = value
	}
}

// resolve walks the alias list in order and returns the first non-empty
// value, the alias position that matched, and whether anything matched.
func (r row) resolve(aliases []string) (string, int, bool) {
	for i, alias := range aliases {
		if value, ok := r[alias]; ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, i, true
			}
		}
		if value, ok := r[squashKey(alias)]; ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, i, true
			}
		}
	}
	return "", -1, false
}

// present reports whether any alias exists as a column at all, regardless of
// value. Used for the stock default: an absent column and an empty value are
// different policies.
func (r row) present(aliases []string) bool {
	for _, alias := range aliases {
		if _, ok := r[alias]; ok {
			return true
		}
		if _, ok := r[squashKey(alias)]; ok {
			return true
		}
	}
	return false
}

// parsePrice is tolerant of currency symbols and thousands separators and
// falls back to 0 when nothing parses.
func parsePrice(raw string) (float64, bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimLeft(cleaned, "$€£ ")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if cleaned == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return price, true
}

// parseStock maps the closed truthy-token set and numeric quantities onto a
// boolean. A feed with no stock column at all defaults to in stock; this is
// a documented business policy, not a parsing gap.
func parseStock(raw string) bool {
	token := strings.ToLower(strings.TrimSpace(raw))
	if token == "" {
		return true
	}
	if _, ok := truthyStockTokens[token]; ok {
		return true
	}
	if qty, err := strconv.ParseFloat(token, 64); err == nil {
		return qty > 0
	}
	return false
}

// buildRecord resolves every canonical field for one source row and records
// the coercions applied on the way.
func buildRecord(r row, rowIndex int) models.ParsedRecord {
	record := models.ParsedRecord{RowIndex: rowIndex, InStock: true}
	var coercions []models.Coercion

	aliasCoercion := func(field string, idx int) {
		if idx > 0 {
			coercions = append(coercions, models.Coercion{Field: field, Type: "alias_fallback"})
		}
	}

	if value, idx, ok := r.resolve(titleAliases); ok {
		record.Title = value
		aliasCoercion("title", idx)
	}
	if value, idx, ok := r.resolve(upcAliases); ok {
		record.UPC = value
		aliasCoercion("upc", idx)
	}
	if value, idx, ok := r.resolve(skuAliases); ok {
		record.SKU = value
		aliasCoercion("sku", idx)
	}
	if value, idx, ok := r.resolve(brandAliases); ok {
		record.Brand = value
		aliasCoercion("brand", idx)
	}
	if value, idx, ok := r.resolve(categoryAliases); ok {
		record.Category = value
		aliasCoercion("category", idx)
	}
	if value, idx, ok := r.resolve(imageAliases); ok {
		record.ImageURL = value
		aliasCoercion("image_url", idx)
	}
	if value, idx, ok := r.resolve(descriptionAliases); ok {
		record.Description = value
		aliasCoercion("description", idx)
	}

	if value, idx, ok := r.resolve(priceAliases); ok {
		price, parsed := parsePrice(value)
		record.Price = price
		aliasCoercion("price", idx)
		if !parsed {
			coercions = append(coercions, models.Coercion{Field: "price", Type: "price_default"})
		} else {
			coercions = append(coercions, models.Coercion{Field: "price", Type: "price_parse"})
		}
	} else {
		record.Price = 0
		coercions = append(coercions, models.Coercion{Field: "price", Type: "price_default"})
	}

	if r.present(stockAliases) {
		value, _, _ := r.resolve(stockAliases)
		record.InStock = parseStock(value)
		coercions = append(coercions, models.Coercion{Field: "in_stock", Type: "stock_token"})
	} else {
		record.InStock = true
		coercions = append(coercions, models.Coercion{Field: "in_stock", Type: "stock_default"})
	}

	record.Coercions = coercions
	return record
}

package validation

import (
	"strings"

	"github.com/priceloom/feedgate/pkg/common/models"
)

// Error codes attached to ValidationOutcome entries.
const (
	CodeMissingTitle = "MISSING_TITLE"
	CodeMissingUPC   = "MISSING_UPC"
	CodeInvalidUPC   = "INVALID_UPC"
	CodeInvalidPrice = "INVALID_PRICE"
)

const (
	upcMinDigits = 8
	upcMaxDigits = 14
)

// Classifier routes parsed records: reject when there is nothing to act on,
// index when all hard requirements hold, quarantine when the record has
// enough signal to be fixed through corrections.
type Classifier struct{}

func NewClassifier() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(record models.ParsedRecord) models.ValidationOutcome {
	outcome := models.ValidationOutcome{
		Coercions: append([]models.Coercion(nil), record.Coercions...),
	}

	if strings.TrimSpace(record.Title) == "" {
		outcome.Errors = append(outcome.Errors, models.FieldError{
			Field:   "title",
			Code:    CodeMissingTitle,
			Message: "record has no title and cannot be acted on",
		})
		return outcome
	}

	normalizedUPC := NormalizeUPC(record.UPC)
	if normalizedUPC != record.UPC {
		outcome.Coercions = append(outcome.Coercions, models.Coercion{Field: "upc", Type: "upc_strip"})
	}

	upcValid := len(normalizedUPC) >= upcMinDigits && len(normalizedUPC) <= upcMaxDigits
	priceValid := record.Price > 0

	if priceValid && upcValid {
		outcome.IsIndexable = true
		return outcome
	}

	// Soft failures: the record names a real product but is not yet safe to
	// index. Operators can supply corrections and reprocess.
	outcome.Quarantine = true
	if !priceValid {
		outcome.Errors = append(outcome.Errors, models.FieldError{
			Field:   "price",
			Code:    CodeInvalidPrice,
			Message: "price is missing or not positive",
		})
	}
	if !upcValid {
		code := CodeInvalidUPC
		message := "UPC must contain 8-14 digits"
		if normalizedUPC == "" {
			code = CodeMissingUPC
			message = "no UPC present"
		}
		outcome.Errors = append(outcome.Errors, models.FieldError{Field: "upc", Code: code, Message: message})
	}

	return outcome
}

// NormalizeUPC strips every non-digit character.
func NormalizeUPC(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SummarizeCoercions aggregates per-field coercion tags across a run for
// operator visibility, keyed "field:type".
func SummarizeCoercions(outcomes []models.ValidationOutcome) map[string]int {
	summary := make(map[string]int)
	for _, outcome := range outcomes {
		for _, coercion := range outcome.Coercions {
			summary[coercion.Field+":"+coercion.Type]++
		}
	}
	return summary
}

package models

import (
	"strings"
	"time"
)

// Feed formats
const (
	FormatCSV  = "csv"
	FormatXML  = "xml"
	FormatJSON = "json"
)

// ParsedRecord is the canonical flat record every connector produces,
// one per source row, in original row order.
type ParsedRecord struct {
	Title       string  `json:"title"`
	Price       float64 `json:"price"`
	UPC         string  `json:"upc"`
	SKU         string  `json:"sku"`
	Brand       string  `json:"brand"`
	Category    string  `json:"category"`
	ImageURL    string  `json:"image_url"`
	Description string  `json:"description"`
	InStock     bool    `json:"in_stock"`
	RowIndex    int     `json:"row_index"`

	// Coercions applied while parsing (alias fallbacks, defaulted values).
	// The validator folds these into the record's ValidationOutcome.
	Coercions []Coercion `json:"coercions,omitempty"`
}

// Validation
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Coercion struct {
	Field string `json:"field"`
	Type  string `json:"type"` // alias_fallback, price_parse, stock_token, stock_default, upc_strip
}

type ValidationOutcome struct {
	IsIndexable bool         `json:"is_indexable"`
	Quarantine  bool         `json:"quarantine"`
	Errors      []FieldError `json:"errors,omitempty"`
	Coercions   []Coercion   `json:"coercions,omitempty"`
}

// Reject reports whether the record carries too little signal to act on.
func (v ValidationOutcome) Reject() bool {
	return !v.IsIndexable && !v.Quarantine
}

// Confidence is the ordered certainty grade of a canonical mapping.
type Confidence string

const (
	ConfidenceNone   Confidence = "NONE"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

var confidenceRank = map[Confidence]int{
	ConfidenceNone:   0,
	ConfidenceLow:    1,
	ConfidenceMedium: 2,
	ConfidenceHigh:   3,
}

func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToUpper(strings.TrimSpace(s))) {
	case ConfidenceLow:
		return ConfidenceLow
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceHigh:
		return ConfidenceHigh
	default:
		return ConfidenceNone
	}
}

func (c Confidence) Rank() int {
	return confidenceRank[c]
}

func (c Confidence) AtLeast(other Confidence) bool {
	return c.Rank() >= other.Rank()
}

// Run triggers
const (
	TriggerScheduled     = "SCHEDULED"
	TriggerManual        = "MANUAL"
	TriggerManualPending = "MANUAL_PENDING"
	TriggerAdminTest     = "ADMIN_TEST"
	TriggerRetry         = "RETRY"
)

// Run states
const (
	RunPending      = "PENDING"
	RunFetching     = "FETCHING"
	RunParsing      = "PARSING"
	RunValidating   = "VALIDATING"
	RunMatching     = "MATCHING"
	RunCircuitCheck = "CIRCUIT_CHECK"
	RunPromoting    = "PROMOTING"
	RunCompleted    = "COMPLETED"
	RunBlocked      = "BLOCKED"
	RunFailed       = "FAILED"
)

// Quarantine states
const (
	QuarantineOpen      = "QUARANTINED"
	QuarantineResolved  = "RESOLVED"
	QuarantineDismissed = "DISMISSED"
)

// Dry run verdicts
const (
	DryRunPass = "PASS"
	DryRunWarn = "WARN"
	DryRunFail = "FAIL"
)

// CircuitBreakerMetrics is computed once per run before bulk promotion.
type CircuitBreakerMetrics struct {
	ActiveCountBefore    int64   `json:"active_count_before"`
	SeenSuccessCount     int64   `json:"seen_success_count"`
	WouldExpireCount     int64   `json:"would_expire_count"`
	URLHashFallbackCount int64   `json:"url_hash_fallback_count"`
	ExpiryPercentage     float64 `json:"expiry_percentage"`
}

// RunStats summarizes one feed run.
type RunStats struct {
	Parsed      int `json:"parsed"`
	Indexed     int `json:"indexed"`
	Quarantined int `json:"quarantined"`
	Rejected    int `json:"rejected"`
	Deactivated int `json:"deactivated"`
}

// Event is the notification envelope published to Kafka.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // run_failed, circuit_breaker_triggered, feed_auto_disabled, feed_recovered
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

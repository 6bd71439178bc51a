package quarantine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/identity"
	"github.com/priceloom/feedgate/pkg/validation"
	"gorm.io/datatypes"
)

// Reason codes reported when a reprocess attempt cannot resolve a record.
const (
	ReasonMissingUPC      = "missing valid UPC"
	ReasonMissingRequired = "missing required fields"
	ReasonNoParsedFields  = "no parsed fields"
)

// Store is the persistence contract the quarantine workflow consumes.
type Store interface {
	Create(ctx context.Context, rec *QuarantinedRecord) error
	Get(ctx context.Context, id string) (*QuarantinedRecord, error)
	List(ctx context.Context, filter ListFilter) ([]QuarantinedRecord, error)
	CountByStatus(ctx context.Context, feedID string) (map[string]int64, error)
	Transition(ctx context.Context, id, status string) error
	CreateCorrection(ctx context.Context, correction *FeedCorrection) error
	DeleteCorrection(ctx context.Context, id string) error
	ListCorrections(ctx context.Context, recordID string) ([]FeedCorrection, error)
}

// SkuUpserter is the slice of the catalog the resolution path needs.
type SkuUpserter interface {
	Upsert(ctx context.Context, sku *catalog.RetailerSku) error
}

type Service struct {
	store      Store
	skus       SkuUpserter
	classifier *validation.Classifier
}

func NewService(store Store, skus SkuUpserter, classifier *validation.Classifier) *Service {
	return &Service{store: store, skus: skus, classifier: classifier}
}

// Quarantine persists one soft-validation failure produced during a run.
func (s *Service) Quarantine(ctx context.Context, feedID, retailerID string, record models.ParsedRecord, outcome models.ValidationOutcome) error {
	errorsJSON, err := json.Marshal(outcome.Errors)
	if err != nil {
		errorsJSON = []byte("[]")
	}

	rec := &QuarantinedRecord{
		FeedID:       feedID,
		RetailerID:   retailerID,
		MatchKey:     identity.MatchKey(record),
		ParsedFields: FieldsFromRecord(record),
		Errors:       datatypes.JSON(errorsJSON),
		Status:       models.QuarantineOpen,
		RowIndex:     record.RowIndex,
	}
	return s.store.Create(ctx, rec)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]QuarantinedRecord, map[string]int64, error) {
	records, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	counts, err := s.store.CountByStatus(ctx, filter.FeedID)
	if err != nil {
		return nil, nil, err
	}
	return records, counts, nil
}

func (s *Service) Get(ctx context.Context, id string) (*QuarantinedRecord, []FeedCorrection, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	corrections, err := s.store.ListCorrections(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return rec, corrections, nil
}

// Dismiss is an explicit operator action and needs no successful reprocess.
func (s *Service) Dismiss(ctx context.Context, id string) error {
	return s.store.Transition(ctx, id, models.QuarantineDismissed)
}

// AddCorrection appends a field override to the ledger, capturing the value
// the field held (original snapshot plus any earlier corrections) at
// creation time.
func (s *Service) AddCorrection(ctx context.Context, recordID, field, newValue, createdBy string) (*FeedCorrection, error) {
	rec, err := s.store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	existing, err := s.store.ListCorrections(ctx, recordID)
	if err != nil {
		return nil, err
	}
	effective := ApplyCorrections(rec.ParsedFields, existing)

	correction := &FeedCorrection{
		QuarantinedRecordID: recordID,
		Field:               strings.TrimSpace(field),
		OldValue:            stringifyField(effective[strings.TrimSpace(field)]),
		NewValue:            newValue,
		CreatedBy:           createdBy,
	}
	if err := s.store.CreateCorrection(ctx, correction); err != nil {
		return nil, err
	}
	return correction, nil
}

func (s *Service) DeleteCorrection(ctx context.Context, correctionID string) error {
	return s.store.DeleteCorrection(ctx, correctionID)
}

type ReprocessResult struct {
	RecordID string `json:"record_id"`
	Resolved bool   `json:"resolved"`
	Skipped  bool   `json:"skipped,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type BatchResult struct {
	TriggeredBy  string            `json:"triggered_by,omitempty"`
	Results      []ReprocessResult `json:"results"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
}

// Reprocess applies the correction ledger to the record's snapshot and
// re-runs classification. Indexable records are upserted into the catalog
// and marked RESOLVED; anything else stays QUARANTINED with a reason code.
// Terminal records are a no-op.
func (s *Service) Reprocess(ctx context.Context, id string) (ReprocessResult, error) {
	result := ReprocessResult{RecordID: id}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return result, err
	}

	if rec.Status != models.QuarantineOpen {
		result.Skipped = true
		result.Reason = "already " + strings.ToLower(rec.Status)
		return result, nil
	}

	if len(rec.ParsedFields) == 0 {
		result.Reason = ReasonNoParsedFields
		return result, nil
	}

	corrections, err := s.store.ListCorrections(ctx, id)
	if err != nil {
		return result, err
	}

	fields := ApplyCorrections(rec.ParsedFields, corrections)
	record := RecordFromFields(fields, rec.RowIndex)
	outcome := s.classifier.Classify(record)

	if !outcome.IsIndexable {
		result.Reason = ReasonMissingRequired
		for _, fieldErr := range outcome.Errors {
			if fieldErr.Field == "upc" {
				result.Reason = ReasonMissingUPC
				break
			}
		}
		return result, nil
	}

	sku := &catalog.RetailerSku{
		RetailerID:        rec.RetailerID,
		SkuHash:           identity.SkuHash(record),
		RawTitle:          record.Title,
		RawPrice:          record.Price,
		RawUPC:            record.UPC,
		RawSKU:            record.SKU,
		RawBrand:          record.Brand,
		RawCategory:       record.Category,
		RawImageURL:       record.ImageURL,
		RawDescription:    record.Description,
		InStock:           record.InStock,
		MappingConfidence: models.ConfidenceNone,
	}
	if err := s.skus.Upsert(ctx, sku); err != nil {
		return result, err
	}

	if err := s.store.Transition(ctx, id, models.QuarantineResolved); err != nil {
		return result, err
	}

	result.Resolved = true
	return result, nil
}

// ReprocessBatch walks the batch sequentially, isolating each record so one
// failure cannot abort the rest.
func (s *Service) ReprocessBatch(ctx context.Context, ids []string, triggeredBy string) BatchResult {
	batch := BatchResult{TriggeredBy: triggeredBy}

	for _, id := range ids {
		result, err := s.Reprocess(ctx, id)
		if err != nil {
			logger.Log.WithError(err).WithField("record_id", id).Warn("reprocess attempt failed")
			result = ReprocessResult{RecordID: id, Reason: err.Error()}
		}
		batch.Results = append(batch.Results, result)
		if result.Resolved {
			batch.SuccessCount++
		} else {
			batch.FailureCount++
		}
	}

	return batch
}

// ApplyCorrections resolves the ledger against a parsed-field snapshot.
// Corrections arrive in creation order; for each field the latest row wins,
// and corrections for different fields apply independently.
func ApplyCorrections(fields datatypes.JSONMap, corrections []FeedCorrection) datatypes.JSONMap {
	merged := make(datatypes.JSONMap, len(fields))
	for key, value := range fields {
		merged[key] = value
	}
	for _, correction := range corrections {
		if field := strings.TrimSpace(correction.Field); field != "" {
			merged[field] = correction.NewValue
		}
	}
	return merged
}

// FieldsFromRecord snapshots a parsed record into the shape stored on a
// quarantined row.
func FieldsFromRecord(record models.ParsedRecord) datatypes.JSONMap {
	return datatypes.JSONMap{
		"title":       record.Title,
		"price":       record.Price,
		"upc":         record.UPC,
		"sku":         record.SKU,
		"brand":       record.Brand,
		"category":    record.Category,
		"image_url":   record.ImageURL,
		"description": record.Description,
		"in_stock":    record.InStock,
	}
}

// RecordFromFields rebuilds a parsed record from a (possibly corrected)
// snapshot. Correction values arrive as strings, so numeric and boolean
// fields tolerate both representations.
func RecordFromFields(fields datatypes.JSONMap, rowIndex int) models.ParsedRecord {
	return models.ParsedRecord{
		Title:       stringifyField(fields["title"]),
		Price:       floatField(fields["price"]),
		UPC:         stringifyField(fields["upc"]),
		SKU:         stringifyField(fields["sku"]),
		Brand:       stringifyField(fields["brand"]),
		Category:    stringifyField(fields["category"]),
		ImageURL:    stringifyField(fields["image_url"]),
		Description: stringifyField(fields["description"]),
		InStock:     boolField(fields["in_stock"]),
		RowIndex:    rowIndex,
	}
}

func stringifyField(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return ""
	}
}

func floatField(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		cleaned := strings.TrimLeft(strings.TrimSpace(v), "$€£ ")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if parsed, err := strconv.ParseFloat(cleaned, 64); err == nil {
			return parsed
		}
		return 0
	default:
		return 0
	}
}

func boolField(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		token := strings.ToLower(strings.TrimSpace(v))
		return token != "false" && token != "0" && token != "no" && token != ""
	default:
		return true
	}
}

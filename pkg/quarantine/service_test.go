package quarantine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/validation"
	"gorm.io/datatypes"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeStore struct {
	records     map[string]*QuarantinedRecord
	corrections map[string][]FeedCorrection
	nextID      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:     make(map[string]*QuarantinedRecord),
		corrections: make(map[string][]FeedCorrection),
	}
}

func (f *fakeStore) Create(_ context.Context, rec *QuarantinedRecord) error {
	if rec.ID == "" {
		f.nextID++
		rec.ID = fmt.Sprintf("qr-%d", f.nextID)
	}
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*QuarantinedRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeStore) List(_ context.Context, _ ListFilter) ([]QuarantinedRecord, error) {
	out := make([]QuarantinedRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	return out, nil
}

func (f *fakeStore) CountByStatus(_ context.Context, _ string) (map[string]int64, error) {
	counts := map[string]int64{
		models.QuarantineOpen:      0,
		models.QuarantineResolved:  0,
		models.QuarantineDismissed: 0,
	}
	for _, rec := range f.records {
		counts[rec.Status]++
	}
	return counts, nil
}

func (f *fakeStore) Transition(_ context.Context, id, status string) error {
	rec, ok := f.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	if rec.Status != models.QuarantineOpen {
		return ErrTerminalState
	}
	rec.Status = status
	return nil
}

func (f *fakeStore) CreateCorrection(_ context.Context, correction *FeedCorrection) error {
	if correction.ID == "" {
		f.nextID++
		correction.ID = fmt.Sprintf("fc-%d", f.nextID)
	}
	f.corrections[correction.QuarantinedRecordID] = append(f.corrections[correction.QuarantinedRecordID], *correction)
	return nil
}

func (f *fakeStore) DeleteCorrection(_ context.Context, id string) error {
	for recordID, list := range f.corrections {
		for i, correction := range list {
			if correction.ID == id {
				f.corrections[recordID] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return ErrCorrectionNotFound
}

func (f *fakeStore) ListCorrections(_ context.Context, recordID string) ([]FeedCorrection, error) {
	return f.corrections[recordID], nil
}

type fakeUpserter struct {
	upserts []catalog.RetailerSku
	err     error
}

func (f *fakeUpserter) Upsert(_ context.Context, sku *catalog.RetailerSku) error {
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, *sku)
	return nil
}

func newTestService() (*Service, *fakeStore, *fakeUpserter) {
	store := newFakeStore()
	skus := &fakeUpserter{}
	return NewService(store, skus, validation.NewClassifier()), store, skus
}

func quarantineBadPrice(t *testing.T, svc *Service, store *fakeStore) string {
	t.Helper()
	record := models.ParsedRecord{Title: "Widget", Price: 0, UPC: "012345678905", SKU: "W-100", RowIndex: 3}
	outcome := models.ValidationOutcome{
		Quarantine: true,
		Errors:     []models.FieldError{{Field: "price", Code: validation.CodeInvalidPrice}},
	}
	if err := svc.Quarantine(context.Background(), "feed-1", "retailer-1", record, outcome); err != nil {
		t.Fatalf("quarantine failed: %v", err)
	}
	for id := range store.records {
		return id
	}
	t.Fatal("no record created")
	return ""
}

func TestQuarantinePersistsSnapshot(t *testing.T) {
	svc, store, _ := newTestService()
	id := quarantineBadPrice(t, svc, store)

	rec := store.records[id]
	if rec.Status != models.QuarantineOpen {
		t.Errorf("status = %s", rec.Status)
	}
	if rec.MatchKey != "upc:012345678905" {
		t.Errorf("match key = %s", rec.MatchKey)
	}
	if rec.ParsedFields["title"] != "Widget" {
		t.Errorf("parsed fields = %v", rec.ParsedFields)
	}
	if rec.RowIndex != 3 {
		t.Errorf("row index = %d", rec.RowIndex)
	}
}

func TestApplyCorrectionsLastWriteWins(t *testing.T) {
	fields := datatypes.JSONMap{"title": "Widget", "price": float64(0)}
	corrections := []FeedCorrection{
		{Field: "price", NewValue: "9.99"},
		{Field: "upc", NewValue: "012345678905"},
		{Field: "price", NewValue: "14.50"},
	}

	merged := ApplyCorrections(fields, corrections)
	if merged["price"] != "14.50" {
		t.Errorf("latest price correction should win, got %v", merged["price"])
	}
	if merged["upc"] != "012345678905" {
		t.Errorf("independent field correction lost: %v", merged["upc"])
	}
	if merged["title"] != "Widget" {
		t.Errorf("uncorrected field changed: %v", merged["title"])
	}
	if fields["price"] != float64(0) {
		t.Error("source snapshot must not be mutated")
	}
}

func TestAddCorrectionCapturesEffectiveOldValue(t *testing.T) {
	svc, store, _ := newTestService()
	id := quarantineBadPrice(t, svc, store)

	first, err := svc.AddCorrection(context.Background(), id, "price", "9.99", "ops@example.com")
	if err != nil {
		t.Fatalf("add correction failed: %v", err)
	}
	if first.OldValue != "0" {
		t.Errorf("first old value = %q, want snapshot value", first.OldValue)
	}

	second, err := svc.AddCorrection(context.Background(), id, "price", "14.50", "ops@example.com")
	if err != nil {
		t.Fatalf("add correction failed: %v", err)
	}
	if second.OldValue != "9.99" {
		t.Errorf("second old value = %q, want prior correction value", second.OldValue)
	}
}

func TestReprocessResolvesCorrectedRecord(t *testing.T) {
	svc, store, skus := newTestService()
	id := quarantineBadPrice(t, svc, store)

	if _, err := svc.AddCorrection(context.Background(), id, "price", "9.99", "ops@example.com"); err != nil {
		t.Fatalf("add correction failed: %v", err)
	}

	result, err := svc.Reprocess(context.Background(), id)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if !result.Resolved {
		t.Fatalf("expected resolved, got %+v", result)
	}
	if store.records[id].Status != models.QuarantineResolved {
		t.Errorf("status = %s", store.records[id].Status)
	}
	if len(skus.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(skus.upserts))
	}
	if skus.upserts[0].RawPrice != 9.99 || skus.upserts[0].RetailerID != "retailer-1" {
		t.Errorf("unexpected upsert: %+v", skus.upserts[0])
	}
}

func TestReprocessStillInvalidKeepsQuarantine(t *testing.T) {
	svc, store, skus := newTestService()
	id := quarantineBadPrice(t, svc, store)

	result, err := svc.Reprocess(context.Background(), id)
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if result.Resolved {
		t.Fatal("uncorrected record should not resolve")
	}
	if result.Reason != ReasonMissingRequired {
		t.Errorf("reason = %q", result.Reason)
	}
	if store.records[id].Status != models.QuarantineOpen {
		t.Errorf("status = %s", store.records[id].Status)
	}
	if len(skus.upserts) != 0 {
		t.Error("nothing should reach the catalog")
	}
}

func TestReprocessReportsMissingUPC(t *testing.T) {
	svc, store, _ := newTestService()
	store.records["qr-x"] = &QuarantinedRecord{
		ID:           "qr-x",
		RetailerID:   "retailer-1",
		ParsedFields: datatypes.JSONMap{"title": "Widget", "price": float64(9.99), "upc": "123"},
		Status:       models.QuarantineOpen,
	}

	result, err := svc.Reprocess(context.Background(), "qr-x")
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if result.Reason != ReasonMissingUPC {
		t.Errorf("reason = %q, want %q", result.Reason, ReasonMissingUPC)
	}
}

func TestReprocessTerminalRecordIsNoOp(t *testing.T) {
	svc, store, skus := newTestService()
	store.records["qr-done"] = &QuarantinedRecord{
		ID:           "qr-done",
		ParsedFields: datatypes.JSONMap{"title": "Widget"},
		Status:       models.QuarantineResolved,
	}

	result, err := svc.Reprocess(context.Background(), "qr-done")
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if !result.Skipped {
		t.Fatalf("expected skip, got %+v", result)
	}
	if len(skus.upserts) != 0 {
		t.Error("terminal record must not be upserted")
	}
	if store.records["qr-done"].Status != models.QuarantineResolved {
		t.Error("terminal status changed")
	}
}

func TestReprocessEmptySnapshot(t *testing.T) {
	svc, store, _ := newTestService()
	store.records["qr-empty"] = &QuarantinedRecord{ID: "qr-empty", Status: models.QuarantineOpen}

	result, err := svc.Reprocess(context.Background(), "qr-empty")
	if err != nil {
		t.Fatalf("reprocess failed: %v", err)
	}
	if result.Reason != ReasonNoParsedFields {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestReprocessBatchIsolatesFailures(t *testing.T) {
	svc, store, _ := newTestService()
	id := quarantineBadPrice(t, svc, store)
	if _, err := svc.AddCorrection(context.Background(), id, "price", "9.99", "ops@example.com"); err != nil {
		t.Fatalf("add correction failed: %v", err)
	}

	batch := svc.ReprocessBatch(context.Background(), []string{"missing-id", id}, "ops@example.com")
	if len(batch.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(batch.Results))
	}
	if batch.SuccessCount != 1 || batch.FailureCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", batch.SuccessCount, batch.FailureCount)
	}
	if batch.Results[0].Resolved {
		t.Error("missing record should not resolve")
	}
	if !batch.Results[1].Resolved {
		t.Error("valid record should resolve despite earlier failure")
	}
}

func TestDismiss(t *testing.T) {
	svc, store, _ := newTestService()
	id := quarantineBadPrice(t, svc, store)

	if err := svc.Dismiss(context.Background(), id); err != nil {
		t.Fatalf("dismiss failed: %v", err)
	}
	if store.records[id].Status != models.QuarantineDismissed {
		t.Errorf("status = %s", store.records[id].Status)
	}

	if err := svc.Dismiss(context.Background(), id); !errors.Is(err, ErrTerminalState) {
		t.Errorf("second dismiss should hit terminal guard, got %v", err)
	}
}

func TestRecordFromFieldsToleratesStringValues(t *testing.T) {
	fields := datatypes.JSONMap{
		"title":    "Widget",
		"price":    "$1,299.99",
		"in_stock": "false",
	}

	record := RecordFromFields(fields, 7)
	if record.Price != 1299.99 {
		t.Errorf("price = %v", record.Price)
	}
	if record.InStock {
		t.Error("in_stock string should parse to false")
	}
	if record.RowIndex != 7 {
		t.Errorf("row index = %d", record.RowIndex)
	}
}

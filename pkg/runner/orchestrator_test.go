package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/priceloom/feedgate/pkg/breaker"
	"github.com/priceloom/feedgate/pkg/catalog"
	"github.com/priceloom/feedgate/pkg/common/logger"
	"github.com/priceloom/feedgate/pkg/common/models"
	"github.com/priceloom/feedgate/pkg/validation"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type fakeFeedStore struct {
	feeds  map[string]*Feed
	runs   map[string]*FeedRun
	nextID int
}

func newFakeFeedStore(feeds ...*Feed) *fakeFeedStore {
	store := &fakeFeedStore{feeds: make(map[string]*Feed), runs: make(map[string]*FeedRun)}
	for _, feed := range feeds {
		store.feeds[feed.ID] = feed
	}
	return store
}

func (f *fakeFeedStore) GetFeed(_ context.Context, id string) (*Feed, error) {
	feed, ok := f.feeds[id]
	if !ok {
		return nil, ErrFeedNotFound
	}
	return feed, nil
}

func (f *fakeFeedStore) SaveFeed(_ context.Context, feed *Feed) error {
	f.feeds[feed.ID] = feed
	return nil
}

func (f *fakeFeedStore) CreateRun(_ context.Context, run *FeedRun) error {
	f.nextID++
	run.ID = fmt.Sprintf("run-%d", f.nextID)
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeFeedStore) SaveRun(_ context.Context, run *FeedRun) error {
	copied := *run
	f.runs[run.ID] = &copied
	return nil
}

func (f *fakeFeedStore) GetRun(_ context.Context, id string) (*FeedRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	return &copied, nil
}

func (f *fakeFeedStore) ListFeeds(_ context.Context) ([]Feed, error) {
	out := make([]Feed, 0, len(f.feeds))
	for _, feed := range f.feeds {
		out = append(out, *feed)
	}
	return out, nil
}

func (f *fakeFeedStore) ListRuns(_ context.Context, feedID string, _ int) ([]FeedRun, error) {
	var out []FeedRun
	for _, run := range f.runs {
		if feedID == "" || run.FeedID == feedID {
			out = append(out, *run)
		}
	}
	return out, nil
}

type fakeCatalogStore struct {
	active      int64
	activeSeen  int64
	deactivated int64
	upserts     []catalog.RetailerSku
}

func (f *fakeCatalogStore) Upsert(_ context.Context, sku *catalog.RetailerSku) error {
	f.upserts = append(f.upserts, *sku)
	return nil
}

func (f *fakeCatalogStore) CountActive(_ context.Context, _ string) (int64, error) {
	return f.active, nil
}

func (f *fakeCatalogStore) CountActiveSeen(_ context.Context, _ string, _ []string) (int64, error) {
	return f.activeSeen, nil
}

func (f *fakeCatalogStore) DeactivateMissing(_ context.Context, _, _ string) (int64, error) {
	return f.deactivated, nil
}

type fakeQuarantiner struct {
	records []models.ParsedRecord
	err     error
}

func (f *fakeQuarantiner) Quarantine(_ context.Context, _, _ string, record models.ParsedRecord, _ models.ValidationOutcome) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type notification struct {
	kind   string
	feedID string
}

type fakeNotifier struct {
	events []notification
}

func (f *fakeNotifier) RunFailed(_ context.Context, feedID, _ string, _ string, _ int) error {
	f.events = append(f.events, notification{"run_failed", feedID})
	return nil
}

func (f *fakeNotifier) CircuitBreakerTriggered(_ context.Context, feedID, _ string, _ []string, _ models.CircuitBreakerMetrics) error {
	f.events = append(f.events, notification{"circuit_breaker_triggered", feedID})
	return nil
}

func (f *fakeNotifier) FeedAutoDisabled(_ context.Context, feedID, _ string, _ int, _ string) error {
	f.events = append(f.events, notification{"feed_auto_disabled", feedID})
	return nil
}

func (f *fakeNotifier) FeedRecovered(_ context.Context, feedID, _ string, _ models.RunStats) error {
	f.events = append(f.events, notification{"feed_recovered", feedID})
	return nil
}

func (f *fakeNotifier) has(kind string) bool {
	for _, event := range f.events {
		if event.kind == kind {
			return true
		}
	}
	return false
}

type fakeFetcher struct {
	content string
	err     error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (string, error) {
	return f.content, f.err
}

type stubMatcher struct {
	result catalog.MatchResult
}

func (s *stubMatcher) Match(_ context.Context, _ models.ParsedRecord) (catalog.MatchResult, error) {
	return s.result, nil
}

const mixedCSV = "title,price,upc\n" +
	"Blue Widget,19.99,012345678905\n" +
	"Short UPC,9.99,12\n" +
	",9.99,112345678906\n"

type harness struct {
	feeds        *fakeFeedStore
	catalogStore *fakeCatalogStore
	quarantiner  *fakeQuarantiner
	notifier     *fakeNotifier
	fetcher      *fakeFetcher
	orch         *Orchestrator
}

func newHarness(feed *Feed, failureLimit int) *harness {
	h := &harness{
		feeds:        newFakeFeedStore(feed),
		catalogStore: &fakeCatalogStore{},
		quarantiner:  &fakeQuarantiner{},
		notifier:     &fakeNotifier{},
		fetcher:      &fakeFetcher{content: mixedCSV},
	}
	h.orch = NewOrchestrator(
		h.feeds,
		h.catalogStore,
		h.quarantiner,
		h.notifier,
		h.fetcher,
		validation.NewClassifier(),
		&stubMatcher{result: catalog.MatchResult{Confidence: models.ConfidenceNone, Method: catalog.MethodNone}},
		breaker.New(20.0, 0.5),
		failureLimit,
	)
	return h
}

func enabledFeed() *Feed {
	return &Feed{ID: "feed-1", Name: "Acme Full", RetailerID: "acme", URL: "https://feeds.example.com/acme.csv", Enabled: true}
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.catalogStore.deactivated = 2

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if run.Status != models.RunCompleted {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Parsed != 3 || run.Indexed != 1 || run.Quarantined != 1 || run.Rejected != 1 {
		t.Errorf("counts parsed=%d indexed=%d quarantined=%d rejected=%d", run.Parsed, run.Indexed, run.Quarantined, run.Rejected)
	}
	if run.Deactivated != 2 {
		t.Errorf("deactivated = %d", run.Deactivated)
	}
	if run.CompletedAt == nil {
		t.Error("completed run needs a completion time")
	}

	if len(h.catalogStore.upserts) != 1 {
		t.Fatalf("expected 1 catalog upsert, got %d", len(h.catalogStore.upserts))
	}
	if h.catalogStore.upserts[0].RawTitle != "Blue Widget" {
		t.Errorf("wrong record promoted: %+v", h.catalogStore.upserts[0])
	}
	if h.catalogStore.upserts[0].LastRunID != run.ID {
		t.Errorf("promoted sku not tagged with run id")
	}

	if len(h.quarantiner.records) != 1 || h.quarantiner.records[0].Title != "Short UPC" {
		t.Errorf("quarantined records: %+v", h.quarantiner.records)
	}

	feed := h.feeds.feeds["feed-1"]
	if feed.LastRunAt == nil {
		t.Error("feed LastRunAt not set")
	}
	if len(h.notifier.events) != 0 {
		t.Errorf("healthy run should be silent, got %v", h.notifier.events)
	}
}

func TestExecuteDisabledFeed(t *testing.T) {
	feed := enabledFeed()
	feed.Enabled = false
	h := newHarness(feed, 5)

	if _, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual); !errors.Is(err, ErrFeedDisabled) {
		t.Fatalf("expected ErrFeedDisabled, got %v", err)
	}
	if len(h.feeds.runs) != 0 {
		t.Error("no run should be created for a disabled feed")
	}
}

func TestExecuteFetchFailure(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.fetcher.err = FetchError{URL: "https://feeds.example.com/acme.csv", StatusCode: 503}

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("recorded failures must not surface as errors: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if run.Error == "" {
		t.Error("run error not recorded")
	}

	feed := h.feeds.feeds["feed-1"]
	if feed.ConsecutiveFailures != 1 {
		t.Errorf("consecutive failures = %d", feed.ConsecutiveFailures)
	}
	if !feed.Enabled {
		t.Error("one failure must not disable the feed")
	}
	if !h.notifier.has("run_failed") {
		t.Error("expected run_failed notification")
	}
}

func TestExecuteParseFailureCountsAgainstStreak(t *testing.T) {
	feed := enabledFeed()
	feed.Format = models.FormatXML
	h := newHarness(feed, 5)
	h.fetcher.content = "definitely not xml"

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if h.feeds.feeds["feed-1"].ConsecutiveFailures != 1 {
		t.Errorf("parse failure should extend the streak")
	}
}

func TestExecuteAutoDisableAfterLimit(t *testing.T) {
	h := newHarness(enabledFeed(), 2)
	h.fetcher.err = FetchError{URL: "u", StatusCode: 500}

	for i := 0; i < 2; i++ {
		if _, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerScheduled); err != nil {
			t.Fatalf("execute %d: %v", i, err)
		}
	}

	feed := h.feeds.feeds["feed-1"]
	if feed.Enabled {
		t.Fatal("feed should be auto-disabled at the failure limit")
	}
	if feed.DisabledAt == nil {
		t.Error("DisabledAt not set")
	}
	if !h.notifier.has("feed_auto_disabled") {
		t.Error("expected feed_auto_disabled notification")
	}

	if _, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerScheduled); !errors.Is(err, ErrFeedDisabled) {
		t.Errorf("disabled feed should refuse to run, got %v", err)
	}
}

func TestExecuteRecoveryResetsStreak(t *testing.T) {
	feed := enabledFeed()
	feed.ConsecutiveFailures = 3
	feed.LastError = "status 500"
	h := newHarness(feed, 5)

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerScheduled)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunCompleted {
		t.Fatalf("status = %s", run.Status)
	}

	if feed.ConsecutiveFailures != 0 || feed.LastError != "" {
		t.Errorf("streak not reset: failures=%d lastError=%q", feed.ConsecutiveFailures, feed.LastError)
	}
	if !h.notifier.has("feed_recovered") {
		t.Error("expected feed_recovered notification")
	}
}

func TestExecuteQuarantinePersistenceFailureFailsRun(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.quarantiner.err = errors.New("database down")

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s", run.Status)
	}
	if len(h.catalogStore.upserts) != 0 {
		t.Error("failed run must not promote")
	}
}

// The failure streak tracks upstream feed health only. A local storage error
// ends the run FAILED but must not extend the streak or disable the feed.
func TestExecutePersistenceFailureDoesNotExtendStreak(t *testing.T) {
	h := newHarness(enabledFeed(), 1)
	h.quarantiner.err = errors.New("database down")

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s", run.Status)
	}

	feed := h.feeds.feeds["feed-1"]
	if feed.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", feed.ConsecutiveFailures)
	}
	if !feed.Enabled {
		t.Error("internal error must not disable the feed")
	}
	if h.notifier.has("feed_auto_disabled") {
		t.Error("no auto-disable notification for an internal error")
	}
}

func TestExecuteBlocksOnExpirySpike(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.catalogStore.active = 100
	h.catalogStore.activeSeen = 10

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunBlocked {
		t.Fatalf("status = %s", run.Status)
	}
	if len(run.Promotions) == 0 {
		t.Error("blocked run must stage its promotion set")
	}
	if len(h.catalogStore.upserts) != 0 {
		t.Error("blocked run must not touch the catalog")
	}
	if !h.notifier.has("circuit_breaker_triggered") {
		t.Error("expected circuit_breaker_triggered notification")
	}
}

func TestExecuteBlocksOnURLHashSpike(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.catalogStore.active = 1
	h.catalogStore.activeSeen = 1
	h.orch.matcher = &stubMatcher{result: catalog.MatchResult{Confidence: models.ConfidenceNone, Method: catalog.MethodURLHash}}

	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if run.Status != models.RunBlocked {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestApproveBlockedRunPromotes(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.catalogStore.active = 100
	h.catalogStore.activeSeen = 10

	blocked, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if blocked.Status != models.RunBlocked {
		t.Fatalf("setup: status = %s", blocked.Status)
	}

	approved, err := h.orch.Approve(context.Background(), blocked.ID)
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if approved.Status != models.RunCompleted {
		t.Fatalf("status = %s", approved.Status)
	}
	if approved.Indexed != 1 {
		t.Errorf("indexed = %d", approved.Indexed)
	}
	if len(approved.Promotions) != 0 {
		t.Error("staged promotions should be cleared after approval")
	}
	if len(h.catalogStore.upserts) != 1 {
		t.Errorf("expected 1 upsert on approval, got %d", len(h.catalogStore.upserts))
	}
}

func TestApproveRejectsNonBlockedRun(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	run, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if _, err := h.orch.Approve(context.Background(), run.ID); !errors.Is(err, ErrRunNotBlocked) {
		t.Errorf("expected ErrRunNotBlocked, got %v", err)
	}
}

func TestDiscardBlockedRun(t *testing.T) {
	h := newHarness(enabledFeed(), 5)
	h.catalogStore.active = 100
	h.catalogStore.activeSeen = 10

	blocked, err := h.orch.Execute(context.Background(), "feed-1", models.TriggerManual)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	discarded, err := h.orch.Discard(context.Background(), blocked.ID)
	if err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if discarded.Status != models.RunFailed {
		t.Fatalf("status = %s", discarded.Status)
	}
	if len(h.catalogStore.upserts) != 0 {
		t.Error("discard must not promote")
	}

	if _, err := h.orch.Approve(context.Background(), blocked.ID); !errors.Is(err, ErrRunNotBlocked) {
		t.Errorf("discarded run should no longer be approvable, got %v", err)
	}
}

func TestReactivateFeed(t *testing.T) {
	feed := enabledFeed()
	feed.Enabled = false
	feed.ConsecutiveFailures = 5
	feed.LastError = "status 500"
	h := newHarness(feed, 5)

	reactivated, err := h.orch.ReactivateFeed(context.Background(), "feed-1")
	if err != nil {
		t.Fatalf("reactivate failed: %v", err)
	}
	if !reactivated.Enabled || reactivated.ConsecutiveFailures != 0 || reactivated.LastError != "" || reactivated.DisabledAt != nil {
		t.Errorf("feed state not reset: %+v", reactivated)
	}
}

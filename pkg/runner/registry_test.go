package runner

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRegistry(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feeds.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing registry: %v", err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistry(t, `feeds:
  - id: acme-full
    name: Acme Full Feed
    retailer_id: acme
    url: https://feeds.example.com/acme.csv
    format: csv
    interval_minutes: 60
  - id: globex-products
    name: Globex Products
    retailer_id: globex
    url: https://feeds.example.com/globex
`)

	feeds, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("expected 2 feeds, got %d", len(feeds))
	}
	if feeds[0].ID != "acme-full" || feeds[0].Format != "csv" || feeds[0].IntervalMinutes != 60 {
		t.Errorf("first entry: %+v", feeds[0])
	}
	if feeds[1].Format != "" {
		t.Errorf("omitted format should stay empty for sniffing, got %q", feeds[1].Format)
	}
}

func TestLoadRegistryRejectsIncompleteEntry(t *testing.T) {
	path := writeRegistry(t, `feeds:
  - id: acme-full
    name: Acme Full Feed
`)

	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected validation error for missing retailer_id and url")
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRegistryMalformedYAML(t *testing.T) {
	path := writeRegistry(t, "feeds: [unterminated")

	if _, err := LoadRegistry(path); err == nil {
		t.Fatal("expected parse error")
	}
}

package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/priceloom/feedgate/pkg/common/logger"
	"gopkg.in/yaml.v3"
)

// RegistryFeed is one entry in the feeds.yml registry file.
type RegistryFeed struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	RetailerID      string `yaml:"retailer_id"`
	URL             string `yaml:"url"`
	Format          string `yaml:"format,omitempty"`
	IntervalMinutes int    `yaml:"interval_minutes"`
}

type registryFile struct {
	Feeds []RegistryFeed `yaml:"feeds"`
}

func LoadRegistry(path string) ([]RegistryFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading feed registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing feed registry: %w", err)
	}

	for i, feed := range file.Feeds {
		if feed.ID == "" || feed.RetailerID == "" || feed.URL == "" {
			return nil, fmt.Errorf("feed registry entry %d: id, retailer_id and url are required", i)
		}
	}

	return file.Feeds, nil
}

// SyncRegistry upserts registry entries into the feeds table. New feeds
// start enabled; existing feeds keep their runtime state.
func (r *Repository) SyncRegistry(ctx context.Context, entries []RegistryFeed) error {
	for _, entry := range entries {
		feed := &Feed{
			ID:              entry.ID,
			Name:            entry.Name,
			RetailerID:      entry.RetailerID,
			URL:             entry.URL,
			Format:          entry.Format,
			IntervalMinutes: entry.IntervalMinutes,
			Enabled:         true,
		}
		if err := r.UpsertFeedConfig(ctx, feed); err != nil {
			return fmt.Errorf("syncing feed %s: %w", entry.ID, err)
		}
	}

	logger.Log.WithField("feeds", len(entries)).Info("Feed registry synced")
	return nil
}

package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cafeops/replenish/internal/repository"
	"github.com/cafeops/replenish/internal/storage"
	"github.com/rs/zerolog/log"
)

const processedSuffix = ".done"

// Invalidator is the cache hook the ingestor fires after new consumption
// rows land for an item.
type Invalidator interface {
	InvalidateItem(ctx context.Context, itemID string) error
}

// Ingestor pulls sales export files from an inbox directory or remote
// bucket, rolls them up into daily consumption rows and invalidates
// cached answers for the affected items.
type Ingestor struct {
	consumption repository.ConsumptionRepository
	invalidator Invalidator
	remote      storage.ObjectStorage
	inboxDir    string
	prefix      string
}

func NewIngestor(consumption repository.ConsumptionRepository, invalidator Invalidator, remote storage.ObjectStorage, inboxDir, prefix string) *Ingestor {
	return &Ingestor{
		consumption: consumption,
		invalidator: invalidator,
		remote:      remote,
		inboxDir:    inboxDir,
		prefix:      prefix,
	}
}

// IngestFile parses one sales export and appends its daily rollups.
// Returns the distinct items touched.
func (g *Ingestor) IngestFile(ctx context.Context, path string) ([]string, error) {
	records, err := ParseSalesCSV(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 {
		log.Info().Str("file", path).Msg("ingest: no sales rows found")
		return nil, nil
	}

	if err := g.consumption.AppendDaily(ctx, records); err != nil {
		return nil, fmt.Errorf("failed to append daily records from %s: %w", path, err)
	}

	seen := make(map[string]struct{})
	items := make([]string, 0)
	for _, r := range records {
		if _, ok := seen[r.ItemID]; ok {
			continue
		}
		seen[r.ItemID] = struct{}{}
		items = append(items, r.ItemID)
	}

	if g.invalidator != nil {
		for _, itemID := range items {
			if err := g.invalidator.InvalidateItem(ctx, itemID); err != nil {
				log.Warn().Err(err).Str("item_id", itemID).Msg("ingest: cache invalidation failed")
			}
		}
	}

	log.Info().Str("file", path).Int("rows", len(records)).Int("items", len(items)).Msg("ingest: file processed")
	return items, nil
}

// ScanInbox processes every unprocessed CSV in the inbox directory,
// renaming each to *.done on success so reruns are idempotent.
func (g *Ingestor) ScanInbox(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(g.inboxDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read inbox %s: %w", g.inboxDir, err)
	}

	processed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		path := filepath.Join(g.inboxDir, entry.Name())
		if _, err := g.IngestFile(ctx, path); err != nil {
			log.Error().Err(err).Str("file", path).Msg("ingest: skipping file")
			continue
		}
		if err := os.Rename(path, path+processedSuffix); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("ingest: failed to mark file processed")
		}
		processed++
	}
	return processed, nil
}

// PullRemote downloads new sales exports from the remote bucket into the
// inbox, then scans the inbox. Objects already present locally (processed
// or not) are skipped.
func (g *Ingestor) PullRemote(ctx context.Context) (int, error) {
	if g.remote == nil {
		return 0, fmt.Errorf("remote storage is not configured")
	}

	objects, err := g.remote.ListObjects(ctx, g.prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list remote sales exports: %w", err)
	}

	for _, obj := range objects {
		if !strings.HasSuffix(strings.ToLower(obj.Key), ".csv") {
			continue
		}
		dest := filepath.Join(g.inboxDir, filepath.Base(obj.Key))
		if fileExists(dest) || fileExists(dest+processedSuffix) {
			continue
		}
		if err := g.remote.DownloadObject(ctx, obj.Key, dest); err != nil {
			log.Error().Err(err).Str("key", obj.Key).Msg("ingest: remote download failed")
			continue
		}
		log.Info().Str("key", obj.Key).Int64("size", obj.Size).Msg("ingest: downloaded sales export")
	}

	return g.ScanInbox(ctx)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

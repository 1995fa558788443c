package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// The archiver promotes stale store records to JSON files on disk. Live
// games are written to the store on every broadcast, so a record that has
// not been touched for the retention period belongs to a dead game.

// archivePass writes every record older than archiveDelay to
// {archivesDir}/{game_id}.json and deletes it from the store on success.
// Failures are logged and retried on the next pass, so archival is
// at-least-once.
func archivePass(cfg *Config, store GameStore, now time.Time) {
	stale := make([]GameRecord, 0)

	err := store.Each(func(record GameRecord) bool {
		if now.Sub(record.DateUpdated) > cfg.archiveDelay {
			stale = append(stale, record)
		}

		return true
	})
	if err != nil {
		logf(cfg, "ARCHIVE: Scanning store failed: %v", err)

		return
	}

	logf(cfg, "ARCHIVE: %d games to archive", len(stale))

	for _, record := range stale {
		filename := filepath.Join(cfg.archivesDir, record.Info.GameID.String()+".json")

		data, err := json.Marshal(record)
		if err != nil {
			logf(cfg, "ARCHIVE: Encoding %s failed: %v", record.Info.GameID, err)

			continue
		}

		if err := os.WriteFile(filename, data, 0o644); err != nil {
			logf(cfg, "ARCHIVE: Writing %s failed: %v", filename, err)

			continue
		}

		logf(cfg, "ARCHIVE: Stored %s", filename)

		if store.Delete(record.Info.GameID) {
			logf(cfg, "ARCHIVE: Deleted %s from store", record.Info.GameID)
		}
	}
}

// runArchiver scans the store once per archive-check interval until the
// context ends.
func runArchiver(ctx context.Context, cfg *Config, store GameStore) error {
	if err := os.MkdirAll(cfg.archivesDir, 0o755); err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(cfg.archiveCheck)
		defer ticker.Stop()

		for {
			archivePass(cfg, store, time.Now().UTC())

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return nil
}

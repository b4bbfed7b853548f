// ABOUTME: Data migration between storage backends
// ABOUTME: Copies sessions and samples with their sync state from source to destination

package storage

import (
	"context"
	"fmt"
	"os"
)

// MigrateSummary holds counts of migrated entities.
type MigrateSummary struct {
	Sessions int
	Samples  int
}

// MigrateData copies all sessions and samples from src to dst, preserving
// IDs, attempts and sync state. Samples already in dst are left alone, so a
// partial migration can be rerun.
func MigrateData(ctx context.Context, src, dst Repository) (*MigrateSummary, error) {
	summary := &MigrateSummary{}

	sessions, err := src.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source sessions: %w", err)
	}

	for _, s := range sessions {
		if err := dst.CreateSession(ctx, s); err != nil {
			return nil, fmt.Errorf("create session %q: %w", s.ID, err)
		}
		summary.Sessions++

		samples, err := src.AllFor(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list samples for session %q: %w", s.ID, err)
		}
		for _, sample := range samples {
			if err := dst.Append(ctx, sample); err != nil {
				return nil, fmt.Errorf("append sample %s: %w", sample.ID, err)
			}
			summary.Samples++
		}
	}

	return summary, nil
}

// IsDirNonEmpty checks whether a directory exists and contains any files or subdirectories.
// Returns false if the directory does not exist or is empty.
func IsDirNonEmpty(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read directory %q: %w", path, err)
	}
	return len(entries) > 0, nil
}

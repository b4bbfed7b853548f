// ABOUTME: Export and import functionality for walk data
// ABOUTME: Supports a YAML backup format that preserves sync state

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harper/walktrack/internal/models"
	"gopkg.in/yaml.v3"
)

// BackupVersion is the current backup format version.
const BackupVersion = "1.0"

// backupTool identifies backups written by this program.
const backupTool = "walktrack"

// Backup represents the YAML backup format.
type Backup struct {
	Version    string          `yaml:"version"`
	ExportedAt time.Time       `yaml:"exported_at"`
	Tool       string          `yaml:"tool"`
	Sessions   []SessionBackup `yaml:"sessions"`
	Samples    []SampleBackup  `yaml:"samples"`
}

// SessionBackup represents a session in the backup format.
type SessionBackup struct {
	ID        string     `yaml:"id"`
	StartedAt time.Time  `yaml:"started_at"`
	EndedAt   *time.Time `yaml:"ended_at,omitempty"`
	Active    bool       `yaml:"active,omitempty"`
}

// SampleBackup represents a sample in the backup format.
type SampleBackup struct {
	ID            string           `yaml:"id"`
	SessionID     string           `yaml:"session_id"`
	Latitude      float64          `yaml:"latitude"`
	Longitude     float64          `yaml:"longitude"`
	Accuracy      float64          `yaml:"accuracy"`
	Speed         float64          `yaml:"speed"`
	CapturedAt    time.Time        `yaml:"captured_at"`
	SyncState     models.SyncState `yaml:"sync_state"`
	Attempts      int              `yaml:"attempts,omitempty"`
	NextAttemptAt time.Time        `yaml:"next_attempt_at,omitempty"`
	CreatedAt     time.Time        `yaml:"created_at"`
}

// ImportSummary counts what a restore wrote.
type ImportSummary struct {
	Sessions int
	Samples  int
}

// ExportBackup serializes every stored session and its samples to YAML.
func ExportBackup(ctx context.Context, repo Repository) ([]byte, error) {
	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	backup := Backup{
		Version:    BackupVersion,
		ExportedAt: time.Now().UTC(),
		Tool:       backupTool,
		Sessions:   make([]SessionBackup, 0, len(sessions)),
		Samples:    []SampleBackup{},
	}

	for _, s := range sessions {
		backup.Sessions = append(backup.Sessions, SessionBackup{
			ID:        s.ID,
			StartedAt: s.StartedAt,
			EndedAt:   s.EndedAt,
			Active:    s.Active,
		})

		samples, err := repo.AllFor(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("list samples for %s: %w", s.ID, err)
		}
		for _, sample := range samples {
			backup.Samples = append(backup.Samples, SampleBackup{
				ID:            sample.ID.String(),
				SessionID:     sample.SessionID,
				Latitude:      sample.Latitude,
				Longitude:     sample.Longitude,
				Accuracy:      sample.Accuracy,
				Speed:         sample.Speed,
				CapturedAt:    sample.CapturedAt,
				SyncState:     sample.SyncState,
				Attempts:      sample.Attempts,
				NextAttemptAt: sample.NextAttemptAt,
				CreatedAt:     sample.CreatedAt,
			})
		}
	}

	return yaml.Marshal(backup)
}

// ImportBackup restores sessions and samples from a YAML backup. Samples whose
// IDs already exist are skipped. InFlight samples come back as Pending since
// no batch is outstanding for the restored store.
func ImportBackup(ctx context.Context, repo Repository, data []byte) (*ImportSummary, error) {
	var backup Backup
	if err := yaml.Unmarshal(data, &backup); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if backup.Version != BackupVersion {
		return nil, fmt.Errorf("unsupported backup version: %s (expected %s)", backup.Version, BackupVersion)
	}

	if backup.Tool != backupTool {
		return nil, fmt.Errorf("wrong tool: %s (expected %s)", backup.Tool, backupTool)
	}

	summary := &ImportSummary{}
	for _, sb := range backup.Sessions {
		s := &models.TrackingSession{
			ID:        sb.ID,
			StartedAt: sb.StartedAt,
			EndedAt:   sb.EndedAt,
			Active:    sb.Active,
		}
		if err := repo.CreateSession(ctx, s); err != nil {
			return nil, fmt.Errorf("create session %s: %w", sb.ID, err)
		}
		summary.Sessions++
	}

	for _, sb := range backup.Samples {
		id, err := uuid.Parse(sb.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid sample ID %s: %w", sb.ID, err)
		}

		state := sb.SyncState
		if state == models.InFlight {
			state = models.Pending
		}

		sample := &models.LocationSample{
			ID:            id,
			SessionID:     sb.SessionID,
			Latitude:      sb.Latitude,
			Longitude:     sb.Longitude,
			Accuracy:      sb.Accuracy,
			Speed:         sb.Speed,
			CapturedAt:    sb.CapturedAt,
			SyncState:     state,
			Attempts:      sb.Attempts,
			NextAttemptAt: sb.NextAttemptAt,
			CreatedAt:     sb.CreatedAt,
		}
		if err := repo.Append(ctx, sample); err != nil {
			return nil, fmt.Errorf("append sample %s: %w", sb.ID, err)
		}
		summary.Samples++
	}

	return summary, nil
}

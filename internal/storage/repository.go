// ABOUTME: Repository interfaces for the durable sample queue and session store
// ABOUTME: Enables testability and storage backend swapping

package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/harper/walktrack/internal/models"
)

// Queue is the durable store of samples and their sync state.
// Implementations serialize state transitions behind a single writer lock.
type Queue interface {
	// Append stores a sample. Appending an existing ID is a no-op.
	Append(ctx context.Context, sample *models.LocationSample) error
	// PendingFor returns the session's Pending samples in capture order.
	PendingFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error)
	// ClaimPending marks up to limit due Pending samples InFlight and returns
	// them oldest first. It claims nothing while the session has a batch
	// InFlight, or when the oldest Pending sample is not yet due at now.
	ClaimPending(ctx context.Context, sessionID string, limit int, now time.Time) ([]*models.LocationSample, error)
	// MarkSynced moves samples to Synced. Unknown IDs are ignored.
	MarkSynced(ctx context.Context, ids []uuid.UUID) error
	// MarkFailed records a retryable failure for each sample.
	MarkFailed(ctx context.Context, ids []uuid.UUID, opts FailOptions) error
	// MarkRejected moves samples straight to Failed.
	MarkRejected(ctx context.Context, ids []uuid.UUID) error
	// ResetFailed returns a session's Failed samples to Pending with zero attempts.
	ResetFailed(ctx context.Context, sessionID string) (int, error)
	// RecoverInFlight returns every InFlight sample to Pending. Used on restart.
	RecoverInFlight(ctx context.Context) (int, error)
	// AllFor returns every sample of the session in capture order.
	AllFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error)
	// SessionsWithPending lists sessions that have at least one Pending sample.
	SessionsWithPending(ctx context.Context) ([]string, error)
	// Counts tallies the session's samples by state.
	Counts(ctx context.Context, sessionID string) (models.StateCounts, error)
}

// SessionStore persists walk metadata.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.TrackingSession) error
	CloseSession(ctx context.Context, id string, endedAt time.Time) error
	GetSession(ctx context.Context, id string) (*models.TrackingSession, error)
	// ListSessions returns sessions newest first.
	ListSessions(ctx context.Context) ([]*models.TrackingSession, error)
}

// Repository combines the queue and session store with lifecycle management.
type Repository interface {
	Queue
	SessionStore
	Close() error
}

// FailOptions controls how MarkFailed schedules the next attempt.
type FailOptions struct {
	// MaxAttempts is the attempt count at which a sample becomes Failed.
	// Zero means never.
	MaxAttempts int
	// Delay returns the wait before attempt k. Nil means retry immediately.
	Delay func(attempt int) time.Duration
	// Now is the reference time for NextAttemptAt. Zero means time.Now().
	Now time.Time
}

// next applies a failure to a sample in place.
func (o FailOptions) next(s *models.LocationSample) {
	s.Attempts++
	if o.MaxAttempts > 0 && s.Attempts >= o.MaxAttempts {
		s.SyncState = models.Failed
		s.NextAttemptAt = time.Time{}
		return
	}
	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	s.SyncState = models.Pending
	s.NextAttemptAt = now
	if o.Delay != nil {
		s.NextAttemptAt = now.Add(o.Delay(s.Attempts))
	}
}

// due reports whether a pending sample may be claimed at now.
func due(s *models.LocationSample, now time.Time) bool {
	return s.NextAttemptAt.IsZero() || !s.NextAttemptAt.After(now)
}

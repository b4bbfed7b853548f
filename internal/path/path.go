// ABOUTME: Read-only queries over a session's recorded path
// ABOUTME: Orders samples by capture time and derives distance and walk statistics

package path

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/geo/s2"
	"github.com/harper/walktrack/internal/geofence"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/storage"
	"github.com/harper/walktrack/internal/validate"
)

// NoiseFloorMeters is the shortest segment counted toward distance. GPS
// jitter while standing still stays below it.
const NoiseFloorMeters = 1.0

// GapThreshold is the pause between consecutive points counted as a gap.
const GapThreshold = 5 * time.Minute

// Store is the subset of the repository the path service reads.
type Store interface {
	AllFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error)
	Counts(ctx context.Context, sessionID string) (models.StateCounts, error)
	GetSession(ctx context.Context, id string) (*models.TrackingSession, error)
}

// Service answers path queries. It never mutates the store.
type Service struct {
	store Store
}

// NewService returns a path service over store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Summary describes a walk.
type Summary struct {
	SessionID      string             `json:"session_id" yaml:"session_id"`
	Points         int                `json:"points" yaml:"points"`
	DistanceMeters float64            `json:"distance_meters" yaml:"distance_meters"`
	Duration       time.Duration      `json:"duration" yaml:"duration"`
	AvgSpeed       float64            `json:"avg_speed" yaml:"avg_speed"`
	MaxSpeed       float64            `json:"max_speed" yaml:"max_speed"`
	Gaps           int                `json:"gaps" yaml:"gaps"`
	Counts         models.StateCounts `json:"counts" yaml:"counts"`
	FirstAt        time.Time          `json:"first_at,omitzero" yaml:"first_at,omitempty"`
	LastAt         time.Time          `json:"last_at,omitzero" yaml:"last_at,omitempty"`
	StartedAt      *time.Time         `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	EndedAt        *time.Time         `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
}

// GetPath returns every sample of the session, whatever its sync state, in
// capture order. Samples with invalid coordinates are dropped. An unknown
// session yields an empty path.
func (s *Service) GetPath(ctx context.Context, sessionID string) ([]*models.LocationSample, error) {
	all, err := s.store.AllFor(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get path: %w", err)
	}
	out := make([]*models.LocationSample, 0, len(all))
	for _, sample := range all {
		if models.ValidateCoordinates(sample.Latitude, sample.Longitude) != nil {
			continue
		}
		out = append(out, sample)
	}
	models.SortByCapturedAt(out)
	return out, nil
}

// Cumulative returns the running distance in metres at each point. The
// first point is at 0. Segments under the noise floor add nothing.
func Cumulative(samples []*models.LocationSample) []float64 {
	out := make([]float64, len(samples))
	for i := 1; i < len(samples); i++ {
		out[i] = out[i-1] + segment(samples[i-1], samples[i])
	}
	return out
}

func segment(a, b *models.LocationSample) float64 {
	d := validate.Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	if d < NoiseFloorMeters {
		return 0
	}
	return d
}

// Summarize computes statistics for a session.
func (s *Service) Summarize(ctx context.Context, sessionID string) (*Summary, error) {
	samples, err := s.GetPath(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	counts, err := s.store.Counts(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	sum := Stats(samples)
	sum.SessionID = sessionID
	sum.Counts = counts

	sess, err := s.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
		started := sess.StartedAt
		sum.StartedAt = &started
		if sess.EndedAt != nil {
			ended := *sess.EndedAt
			sum.EndedAt = &ended
		}
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return sum, nil
}

// ErrNoPoints is returned when a fence must be centred on a walk with no
// valid points.
var ErrNoPoints = errors.New("walk has no points")

// CheckFence checks the walk against a circle of radius metres. A nil center
// puts the circle on the first point of the walk.
func (s *Service) CheckFence(ctx context.Context, sessionID string, center *s2.LatLng, radius float64) (*geofence.Report, error) {
	samples, err := s.GetPath(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var lat, lng float64
	switch {
	case center != nil:
		lat, lng = center.Lat.Degrees(), center.Lng.Degrees()
	case len(samples) > 0:
		lat, lng = samples[0].Latitude, samples[0].Longitude
	default:
		return nil, fmt.Errorf("check fence for %s: %w", sessionID, ErrNoPoints)
	}
	fence, err := geofence.New(lat, lng, radius)
	if err != nil {
		return nil, err
	}
	report := geofence.Check(fence, samples)
	report.SessionID = sessionID
	return report, nil
}

// Stats derives the movement statistics of an ordered path.
func Stats(samples []*models.LocationSample) *Summary {
	sum := &Summary{Points: len(samples)}
	if len(samples) == 0 {
		return sum
	}
	sum.FirstAt = samples[0].CapturedAt
	sum.LastAt = samples[len(samples)-1].CapturedAt
	sum.Duration = sum.LastAt.Sub(sum.FirstAt)

	for i := 1; i < len(samples); i++ {
		d := segment(samples[i-1], samples[i])
		sum.DistanceMeters += d
		dt := samples[i].CapturedAt.Sub(samples[i-1].CapturedAt)
		if dt > GapThreshold {
			sum.Gaps++
		}
		if dt > 0 && d > 0 {
			if v := d / dt.Seconds(); v > sum.MaxSpeed {
				sum.MaxSpeed = v
			}
		}
	}
	if sum.Duration > 0 {
		sum.AvgSpeed = sum.DistanceMeters / sum.Duration.Seconds()
	}
	return sum
}

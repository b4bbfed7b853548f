// ABOUTME: Circular boundaries around a walk and the breaches of a recorded path
// ABOUTME: Uses an s2 cap for containment so checks stay exact near the poles and antimeridian

package geofence

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/validate"
)

// Radius limits in metres.
const (
	DefaultRadiusMeters = 500.0
	MinRadiusMeters     = 100.0
	MaxRadiusMeters     = 5000.0
)

// ErrInvalid is returned for a fence with bad coordinates or radius.
var ErrInvalid = errors.New("invalid geofence")

// Fence is a circle on the Earth's surface. The zero value is not usable;
// build one with New.
type Fence struct {
	Latitude     float64 `json:"latitude" yaml:"latitude"`
	Longitude    float64 `json:"longitude" yaml:"longitude"`
	RadiusMeters float64 `json:"radius_meters" yaml:"radius_meters"`

	cap s2.Cap
}

// New returns a fence centred on lat, lng. A zero radius means
// DefaultRadiusMeters; anything else must lie within the radius limits.
func New(lat, lng, radius float64) (*Fence, error) {
	if err := models.ValidateCoordinates(lat, lng); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if radius == 0 {
		radius = DefaultRadiusMeters
	}
	if math.IsNaN(radius) || radius < MinRadiusMeters || radius > MaxRadiusMeters {
		return nil, fmt.Errorf("%w: radius %.1fm outside [%.0f, %.0f]", ErrInvalid, radius, MinRadiusMeters, MaxRadiusMeters)
	}
	center := s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng))
	return &Fence{
		Latitude:     lat,
		Longitude:    lng,
		RadiusMeters: radius,
		cap:          s2.CapFromCenterAngle(center, s1.Angle(radius/validate.EarthRadiusMeters)),
	}, nil
}

// Contains reports whether lat, lng lies inside the fence or on its edge.
func (f *Fence) Contains(lat, lng float64) bool {
	return f.cap.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lng)))
}

// Distance returns the great-circle distance from the centre in metres.
func (f *Fence) Distance(lat, lng float64) float64 {
	return validate.Distance(f.Latitude, f.Longitude, lat, lng)
}

// Breach is one excursion outside the fence.
type Breach struct {
	ExitedAt       time.Time  `json:"exited_at" yaml:"exited_at"`
	ReturnedAt     *time.Time `json:"returned_at,omitempty" yaml:"returned_at,omitempty"`
	Points         int        `json:"points" yaml:"points"`
	FarthestMeters float64    `json:"farthest_meters" yaml:"farthest_meters"`
}

// Report is the result of checking a path against a fence.
type Report struct {
	SessionID      string   `json:"session_id" yaml:"session_id"`
	Fence          *Fence   `json:"fence" yaml:"fence"`
	Inside         int      `json:"inside" yaml:"inside"`
	Outside        int      `json:"outside" yaml:"outside"`
	FarthestMeters float64  `json:"farthest_meters" yaml:"farthest_meters"`
	Breaches       []Breach `json:"breaches" yaml:"breaches"`
}

// Contained reports whether every point stayed inside the fence.
func (r *Report) Contained() bool {
	return r.Outside == 0
}

// Check walks samples in the order given, which should be capture order, and
// groups consecutive outside points into breaches. A breach still open at
// the last point has no ReturnedAt.
func Check(f *Fence, samples []*models.LocationSample) *Report {
	r := &Report{Fence: f, Breaches: []Breach{}}
	if len(samples) > 0 {
		r.SessionID = samples[0].SessionID
	}

	var open *Breach
	for _, s := range samples {
		d := f.Distance(s.Latitude, s.Longitude)
		r.FarthestMeters = max(r.FarthestMeters, d)

		if f.Contains(s.Latitude, s.Longitude) {
			r.Inside++
			if open != nil {
				returned := s.CapturedAt
				open.ReturnedAt = &returned
				r.Breaches = append(r.Breaches, *open)
				open = nil
			}
			continue
		}

		r.Outside++
		if open == nil {
			open = &Breach{ExitedAt: s.CapturedAt}
		}
		open.Points++
		open.FarthestMeters = max(open.FarthestMeters, d)
	}
	if open != nil {
		r.Breaches = append(r.Breaches, *open)
	}
	return r
}

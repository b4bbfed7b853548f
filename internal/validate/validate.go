// ABOUTME: Sample validator that turns raw readings into pending samples
// ABOUTME: Rejects bad coordinates, poor accuracy, bad timestamps, and implausible jumps

package validate

import (
	"math"
	"time"

	"github.com/golang/geo/s2"
	"github.com/harper/walktrack/internal/models"
)

// Reason names why a reading was rejected. The empty Reason means accepted.
type Reason string

const (
	Accepted           Reason = ""
	InvalidCoordinates Reason = "invalid_coordinates"
	LowAccuracy        Reason = "low_accuracy"
	NegativeSpeed      Reason = "negative_speed"
	MissingTimestamp   Reason = "missing_timestamp"
	FutureTimestamp    Reason = "future_timestamp"
	ImplausibleJump    Reason = "implausible_jump"
)

// Reasons lists every rejection reason in check order.
var Reasons = []Reason{
	InvalidCoordinates,
	LowAccuracy,
	NegativeSpeed,
	MissingTimestamp,
	FutureTimestamp,
	ImplausibleJump,
}

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371008.8

// Config holds validator thresholds.
type Config struct {
	// MaxAccuracy is the worst acceptable horizontal accuracy in metres.
	MaxAccuracy float64 `json:"max_accuracy"`
	// MaxSpeed is the fastest plausible movement between samples in m/s.
	// Zero disables the check.
	MaxSpeed float64 `json:"max_speed"`
	// MaxClockSkew is how far ahead of the local clock a capture time may be.
	MaxClockSkew time.Duration `json:"max_clock_skew"`
}

// DefaultConfig returns thresholds tuned for dog walks.
func DefaultConfig() Config {
	return Config{
		MaxAccuracy:  50,
		MaxSpeed:     35.0 / 3.6,
		MaxClockSkew: time.Minute,
	}
}

// Validator checks raw readings. It is stateless apart from its config.
type Validator struct {
	cfg   Config
	Clock func() time.Time
}

// New creates a Validator. Unset accuracy and skew thresholds fall back to
// defaults. A negative MaxSpeed also falls back; zero disables the jump check.
func New(cfg Config) *Validator {
	def := DefaultConfig()
	if cfg.MaxAccuracy <= 0 {
		cfg.MaxAccuracy = def.MaxAccuracy
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = def.MaxClockSkew
	}
	if cfg.MaxSpeed < 0 {
		cfg.MaxSpeed = def.MaxSpeed
	}
	return &Validator{cfg: cfg, Clock: time.Now}
}

// Config returns the thresholds in effect.
func (v *Validator) Config() Config {
	return v.cfg
}

// Validate returns a new pending sample for raw, or nil and the reason it was
// rejected. prev is the last accepted sample of the session and may be nil.
func (v *Validator) Validate(sessionID string, raw models.RawReading, prev *models.LocationSample) (*models.LocationSample, Reason) {
	if reason := v.Check(raw, prev); reason != Accepted {
		return nil, reason
	}
	return models.NewSample(sessionID, raw), Accepted
}

// Check runs every rule against raw without building a sample.
func (v *Validator) Check(raw models.RawReading, prev *models.LocationSample) Reason {
	if models.ValidateCoordinates(raw.Latitude, raw.Longitude) != nil {
		return InvalidCoordinates
	}
	if math.IsNaN(raw.Accuracy) || raw.Accuracy < 0 || raw.Accuracy > v.cfg.MaxAccuracy {
		return LowAccuracy
	}
	if math.IsNaN(raw.Speed) || raw.Speed < 0 {
		return NegativeSpeed
	}
	if raw.CapturedAt.IsZero() {
		return MissingTimestamp
	}
	if raw.CapturedAt.After(v.Clock().Add(v.cfg.MaxClockSkew)) {
		return FutureTimestamp
	}
	if prev != nil && v.cfg.MaxSpeed > 0 && raw.CapturedAt.After(prev.CapturedAt) {
		elapsed := raw.CapturedAt.Sub(prev.CapturedAt).Seconds()
		dist := Distance(prev.Latitude, prev.Longitude, raw.Latitude, raw.Longitude)
		if dist/elapsed > v.cfg.MaxSpeed {
			return ImplausibleJump
		}
	}
	return Accepted
}

// Distance returns the great-circle distance in metres between two points.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * EarthRadiusMeters
}

// ABOUTME: Core data models for walks, location samples, and raw readings
// ABOUTME: Provides constructors, coordinate validation, and capture-order sorting

package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidateCoordinates checks if latitude and longitude are within valid ranges.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return fmt.Errorf("coordinates cannot be NaN")
	}
	if math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return fmt.Errorf("coordinates cannot be infinite")
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("longitude must be between -180 and 180")
	}
	return nil
}

// ValidateSessionID checks that a session identifier is usable as a key.
func ValidateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id cannot be empty or whitespace")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id too long (max 128 characters)")
	}
	if strings.ContainsAny(id, "/\x00") {
		return fmt.Errorf("session id cannot contain '/' or NUL")
	}
	return nil
}

// RawReading is one unvalidated position event from the platform.
type RawReading struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Speed      float64   `json:"speed"`
	CapturedAt time.Time `json:"captured_at"`
}

// LocationSample is a validated reading owned by a session.
type LocationSample struct {
	ID            uuid.UUID `json:"id"`
	SessionID     string    `json:"session_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Accuracy      float64   `json:"accuracy"`
	Speed         float64   `json:"speed"`
	CapturedAt    time.Time `json:"captured_at"`
	SyncState     SyncState `json:"sync_state"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
	CreatedAt     time.Time `json:"created_at"`
}

// TrackingSession is one walk. At most one is active at a time.
type TrackingSession struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Active    bool       `json:"active"`
}

// StateCounts tallies a session's samples by sync state.
type StateCounts struct {
	Pending  int `json:"pending"`
	InFlight int `json:"in_flight"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
}

// Total returns the number of samples across all states.
func (c StateCounts) Total() int {
	return c.Pending + c.InFlight + c.Synced + c.Failed
}

// Add increments the counter for state.
func (c *StateCounts) Add(state SyncState, n int) {
	switch state {
	case Pending:
		c.Pending += n
	case InFlight:
		c.InFlight += n
	case Synced:
		c.Synced += n
	case Failed:
		c.Failed += n
	}
}

// NewSample creates a pending sample with a fresh ID from a raw reading.
func NewSample(sessionID string, r RawReading) *LocationSample {
	return &LocationSample{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		Accuracy:   r.Accuracy,
		Speed:      r.Speed,
		CapturedAt: r.CapturedAt,
		SyncState:  Pending,
		CreatedAt:  time.Now(),
	}
}

// NewSession creates an active session. An empty id gets a generated UUID.
func NewSession(id string) *TrackingSession {
	if id == "" {
		id = uuid.NewString()
	}
	return &TrackingSession{
		ID:        id,
		StartedAt: time.Now(),
		Active:    true,
	}
}

// Close marks the session inactive and records when it ended.
func (s *TrackingSession) Close(at time.Time) {
	s.Active = false
	s.EndedAt = &at
}

// Duration returns how long the session ran, or has run so far if still active.
func (s *TrackingSession) Duration() time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}

// SortByCapturedAt orders samples by capture time. Ties are broken by ID so
// the order is total and stable across backends.
func SortByCapturedAt(samples []*LocationSample) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		if !a.CapturedAt.Equal(b.CapturedAt) {
			return a.CapturedAt.Before(b.CapturedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}

// IDs returns the IDs of samples in order.
func IDs(samples []*LocationSample) []uuid.UUID {
	ids := make([]uuid.UUID, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	return ids
}

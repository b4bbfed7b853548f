// ABOUTME: Wire format shared by the sync transport and the ingest server
// ABOUTME: Converts samples to and from the JSON batch payload

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WireSample is one sample as sent to the remote store. Sync bookkeeping
// stays on the device.
type WireSample struct {
	ID         string    `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Speed      float64   `json:"speed"`
	CapturedAt time.Time `json:"captured_at"`
}

// BatchPayload is the body of a batch submission.
type BatchPayload struct {
	SessionID string       `json:"session_id"`
	DeviceID  string       `json:"device_id,omitempty"`
	Samples   []WireSample `json:"samples"`
}

// ToWire converts a sample to its wire form.
func (s *LocationSample) ToWire() WireSample {
	return WireSample{
		ID:         s.ID.String(),
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Accuracy:   s.Accuracy,
		Speed:      s.Speed,
		CapturedAt: s.CapturedAt.UTC(),
	}
}

// FromWire rebuilds a sample owned by sessionID. The result is Synced since
// it came from the remote store.
func FromWire(sessionID string, w WireSample) (*LocationSample, error) {
	id, err := uuid.Parse(w.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid sample id %q: %w", w.ID, err)
	}
	return &LocationSample{
		ID:         id,
		SessionID:  sessionID,
		Latitude:   w.Latitude,
		Longitude:  w.Longitude,
		Accuracy:   w.Accuracy,
		Speed:      w.Speed,
		CapturedAt: w.CapturedAt,
		SyncState:  Synced,
		CreatedAt:  time.Now(),
	}, nil
}

// NewBatchPayload builds the payload for samples of one session.
func NewBatchPayload(sessionID, deviceID string, samples []*LocationSample) BatchPayload {
	p := BatchPayload{SessionID: sessionID, DeviceID: deviceID, Samples: make([]WireSample, len(samples))}
	for i, s := range samples {
		p.Samples[i] = s.ToWire()
	}
	return p
}

// ABOUTME: Delivers sample batches into the Charm KV cloud store
// ABOUTME: Each sample is keyed by its id so a replayed batch overwrites itself

package charm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/charm/kv"
	"github.com/harper/walktrack/internal/models"
	"github.com/harper/walktrack/internal/sync"
)

var _ sync.Transport = (*Transport)(nil)

// ErrNotFound is returned when a key is missing from the store.
var ErrNotFound = errors.New("not found")

// Record is the stored form of one delivered sample.
type Record struct {
	SessionID   string            `json:"session_id"`
	DeviceID    string            `json:"device_id,omitempty"`
	Sample      models.WireSample `json:"sample"`
	DeliveredAt time.Time         `json:"delivered_at"`
}

// SessionRecord tracks the last delivery for a session.
type SessionRecord struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id,omitempty"`
	LastBatchAt time.Time `json:"last_batch_at"`
}

// Transport writes batches to Charm KV.
type Transport struct {
	client *Client
	now    func() time.Time
	// write runs a write transaction; it is client.Do outside tests.
	write func(fn func(k *kv.KV) error) error
}

// NewTransport returns a transport backed by client.
func NewTransport(client *Client) *Transport {
	return &Transport{client: client, now: time.Now, write: client.Do}
}

func sampleKey(id string) []byte {
	return []byte(SamplePrefix + id)
}

func sessionKey(id string) []byte {
	return []byte(SessionPrefix + id)
}

// SubmitBatch stores every sample of the batch in one write transaction.
// Encoding problems are fatal; store and network errors are retryable. The
// charm library cannot be cancelled, so when ctx ends first SubmitBatch
// returns ctx.Err() and leaves the write to finish in the background.
func (t *Transport) SubmitBatch(ctx context.Context, batch sync.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := models.ValidateSessionID(batch.SessionID); err != nil {
		return sync.Rejected("%v", err)
	}
	if len(batch.Samples) == 0 {
		return nil
	}

	now := t.now().UTC()
	entries := make(map[string][]byte, len(batch.Samples)+1)
	for _, s := range batch.Samples {
		if s.SessionID != batch.SessionID {
			return sync.Rejected("sample %s belongs to session %q", s.ID, s.SessionID)
		}
		data, err := json.Marshal(Record{
			SessionID:   batch.SessionID,
			DeviceID:    batch.DeviceID,
			Sample:      s.ToWire(),
			DeliveredAt: now,
		})
		if err != nil {
			return sync.Rejected("marshal sample %s: %v", s.ID, err)
		}
		entries[string(sampleKey(s.ID.String()))] = data
	}
	sess, err := json.Marshal(SessionRecord{ID: batch.SessionID, DeviceID: batch.DeviceID, LastBatchAt: now})
	if err != nil {
		return sync.Rejected("marshal session: %v", err)
	}
	entries[string(sessionKey(batch.SessionID))] = sess

	done := make(chan error, 1)
	go func() {
		done <- t.write(func(k *kv.KV) error {
			for key, val := range entries {
				if err := k.Set([]byte(key), val); err != nil {
					return err
				}
			}
			return nil
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("charm write: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("charm write: %w", ctx.Err())
	}
}

// Samples returns the delivered samples of a session in capture order.
func (t *Transport) Samples(sessionID string) ([]*models.LocationSample, error) {
	var out []*models.LocationSample
	err := t.client.DoReadOnly(func(k *kv.KV) error {
		keys, err := k.Keys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if !bytes.HasPrefix(key, []byte(SamplePrefix)) {
				continue
			}
			data, err := k.Get(key)
			if err != nil {
				return err
			}
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				continue
			}
			if rec.SessionID != sessionID {
				continue
			}
			s, err := models.FromWire(rec.SessionID, rec.Sample)
			if err != nil {
				continue
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	models.SortByCapturedAt(out)
	return out, nil
}

// Session returns the delivery record of a session.
func (t *Transport) Session(sessionID string) (*SessionRecord, error) {
	data, err := t.client.Get(sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrMissingKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &rec, nil
}

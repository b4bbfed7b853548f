// ABOUTME: Badger storage implementation for the sample queue and sessions
// ABOUTME: Keys samples by session and capture time so prefix scans return capture order

package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	gosync "sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/harper/walktrack/internal/models"
)

// Key layout:
//
//	sample/<session>/<captured_at BE uint64><id>  -> sample JSON
//	idx/<id>                                       -> sample key
//	session/<id>                                   -> session JSON
var (
	samplePrefix  = []byte("sample/")
	indexPrefix   = []byte("idx/")
	sessionPrefix = []byte("session/")
)

// BadgerQueue implements Repository on an embedded Badger key-value store.
type BadgerQueue struct {
	db  *badger.DB
	dir string
	mu  gosync.Mutex // serializes state transitions
}

// Compile-time check that BadgerQueue implements Repository.
var _ Repository = (*BadgerQueue)(nil)

// NewBadgerQueue opens a Badger store in dir. An empty dir opens an
// in-memory store.
func NewBadgerQueue(dir string) (*BadgerQueue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0750); err != nil { //nolint:gosec // 0750 is appropriate for user data directory
		return nil, fmt.Errorf("create directory: %w", err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerQueue{db: db, dir: dir}, nil
}

// Close closes the store.
func (b *BadgerQueue) Close() error {
	return b.db.Close()
}

func sessionSamplePrefix(sessionID string) []byte {
	k := make([]byte, 0, len(samplePrefix)+len(sessionID)+1)
	k = append(k, samplePrefix...)
	k = append(k, sessionID...)
	return append(k, '/')
}

func sampleKey(s *models.LocationSample) []byte {
	k := sessionSamplePrefix(s.SessionID)
	var ts [8]byte
	// Flip the sign bit so negative times sort before positive ones.
	binary.BigEndian.PutUint64(ts[:], uint64(s.CapturedAt.UnixNano())^(1<<63))
	k = append(k, ts[:]...)
	return append(k, s.ID.String()...)
}

func indexKey(id uuid.UUID) []byte {
	return append(append([]byte{}, indexPrefix...), id.String()...)
}

func sessionKey(id string) []byte {
	return append(append([]byte{}, sessionPrefix...), id...)
}

// Append stores a sample unless its ID is already present.
func (b *BadgerQueue) Append(ctx context.Context, s *models.LocationSample) error {
	if err := models.ValidateSessionID(s.SessionID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(indexKey(s.ID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		key := sampleKey(s)
		if err := putJSON(txn, key, s); err != nil {
			return err
		}
		return txn.Set(indexKey(s.ID), key)
	})
	return wrapStorage("append sample", err)
}

// PendingFor returns Pending samples of a session in capture order.
func (b *BadgerQueue) PendingFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error) {
	var out []*models.LocationSample
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, sessionSamplePrefix(sessionID), func(_ []byte, s *models.LocationSample) bool {
			if s.SyncState == models.Pending {
				out = append(out, s)
			}
			return true
		})
	})
	if err != nil {
		return nil, wrapStorage("scan pending", err)
	}
	return nonNil(out), nil
}

// AllFor returns every sample of a session in capture order.
func (b *BadgerQueue) AllFor(ctx context.Context, sessionID string) ([]*models.LocationSample, error) {
	var out []*models.LocationSample
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, sessionSamplePrefix(sessionID), func(_ []byte, s *models.LocationSample) bool {
			out = append(out, s)
			return true
		})
	})
	if err != nil {
		return nil, wrapStorage("scan samples", err)
	}
	// Equal capture times share a key prefix and already sort by id.
	return nonNil(out), nil
}

// ClaimPending marks the due prefix of the session's Pending samples InFlight.
func (b *BadgerQueue) ClaimPending(ctx context.Context, sessionID string, limit int, now time.Time) ([]*models.LocationSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var claimed []*models.LocationSample
	err := b.db.Update(func(txn *badger.Txn) error {
		claimed = nil
		type entry struct {
			key    []byte
			sample *models.LocationSample
		}
		var candidates []entry
		inFlight := false
		err := scanPrefix(txn, sessionSamplePrefix(sessionID), func(key []byte, s *models.LocationSample) bool {
			switch s.SyncState {
			case models.InFlight:
				inFlight = true
				return false
			case models.Pending:
				if len(candidates) < limit {
					candidates = append(candidates, entry{key: key, sample: s})
				}
			}
			return true
		})
		if err != nil || inFlight {
			return err
		}
		for _, c := range candidates {
			if !due(c.sample, now) {
				break
			}
			c.sample.SyncState = models.InFlight
			if err := putJSON(txn, c.key, c.sample); err != nil {
				return err
			}
			claimed = append(claimed, c.sample)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("claim pending", err)
	}
	return claimed, nil
}

// MarkSynced moves Pending or InFlight samples to Synced.
func (b *BadgerQueue) MarkSynced(ctx context.Context, ids []uuid.UUID) error {
	return b.transition(ctx, "mark synced", ids, func(s *models.LocationSample) {
		s.SyncState = models.Synced
		s.NextAttemptAt = time.Time{}
	})
}

// MarkRejected moves Pending or InFlight samples to Failed.
func (b *BadgerQueue) MarkRejected(ctx context.Context, ids []uuid.UUID) error {
	return b.transition(ctx, "mark rejected", ids, func(s *models.LocationSample) {
		s.SyncState = models.Failed
		s.NextAttemptAt = time.Time{}
	})
}

// MarkFailed increments attempts and reschedules or fails each sample.
func (b *BadgerQueue) MarkFailed(ctx context.Context, ids []uuid.UUID, opts FailOptions) error {
	return b.transition(ctx, "mark failed", ids, opts.next)
}

// transition applies fn to each known sample in ids and keeps the result
// only when the state change is allowed.
func (b *BadgerQueue) transition(_ context.Context, op string, ids []uuid.UUID, fn func(*models.LocationSample)) error {
	if len(ids) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			key, s, err := getByID(txn, id)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			from := s.SyncState
			fn(s)
			if !from.CanTransition(s.SyncState) {
				continue
			}
			if err := putJSON(txn, key, s); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStorage(op, err)
}

// ResetFailed returns a session's Failed samples to Pending.
func (b *BadgerQueue) ResetFailed(ctx context.Context, sessionID string) (int, error) {
	return b.rewrite("reset failed", sessionSamplePrefix(sessionID), func(s *models.LocationSample) bool {
		if s.SyncState != models.Failed {
			return false
		}
		s.SyncState = models.Pending
		s.Attempts = 0
		s.NextAttemptAt = time.Time{}
		return true
	})
}

// RecoverInFlight returns stranded InFlight samples to Pending.
func (b *BadgerQueue) RecoverInFlight(ctx context.Context) (int, error) {
	return b.rewrite("recover in-flight", samplePrefix, func(s *models.LocationSample) bool {
		if s.SyncState != models.InFlight {
			return false
		}
		s.SyncState = models.Pending
		return true
	})
}

// rewrite applies fn to every sample under prefix and stores those it changed.
func (b *BadgerQueue) rewrite(op string, prefix []byte, fn func(*models.LocationSample) bool) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		n = 0
		type change struct {
			key    []byte
			sample *models.LocationSample
		}
		var changes []change
		err := scanPrefix(txn, prefix, func(key []byte, s *models.LocationSample) bool {
			if fn(s) {
				changes = append(changes, change{key: key, sample: s})
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, c := range changes {
			if err := putJSON(txn, c.key, c.sample); err != nil {
				return err
			}
		}
		n = len(changes)
		return nil
	})
	if err != nil {
		return 0, wrapStorage(op, err)
	}
	return n, nil
}

// SessionsWithPending lists sessions with Pending samples.
func (b *BadgerQueue) SessionsWithPending(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, samplePrefix, func(_ []byte, s *models.LocationSample) bool {
			if s.SyncState == models.Pending {
				seen[s.SessionID] = true
			}
			return true
		})
	})
	if err != nil {
		return nil, wrapStorage("scan sessions", err)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Counts tallies a session's samples by state.
func (b *BadgerQueue) Counts(ctx context.Context, sessionID string) (models.StateCounts, error) {
	var counts models.StateCounts
	err := b.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, sessionSamplePrefix(sessionID), func(_ []byte, s *models.LocationSample) bool {
			counts.Add(s.SyncState, 1)
			return true
		})
	})
	return counts, wrapStorage("count samples", err)
}

// CreateSession stores a session. An existing id keeps its start time.
func (b *BadgerQueue) CreateSession(ctx context.Context, s *models.TrackingSession) error {
	if err := models.ValidateSessionID(s.ID); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		stored := *s
		var existing models.TrackingSession
		err := getJSON(txn, sessionKey(s.ID), &existing)
		switch {
		case err == nil:
			stored.StartedAt = existing.StartedAt
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return putJSON(txn, sessionKey(s.ID), &stored)
	})
	return wrapStorage("put session", err)
}

// CloseSession marks a session inactive.
func (b *BadgerQueue) CloseSession(ctx context.Context, id string, endedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.db.Update(func(txn *badger.Txn) error {
		var s models.TrackingSession
		if err := getJSON(txn, sessionKey(id), &s); err != nil {
			return err
		}
		s.Close(endedAt.UTC())
		return putJSON(txn, sessionKey(id), &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return wrapStorage("close session", err)
}

// GetSession retrieves a session by id.
func (b *BadgerQueue) GetSession(ctx context.Context, id string) (*models.TrackingSession, error) {
	var s models.TrackingSession
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(id), &s)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapStorage("get session", err)
	}
	return &s, nil
}

// ListSessions returns all sessions, newest first.
func (b *BadgerQueue) ListSessions(ctx context.Context) ([]*models.TrackingSession, error) {
	var sessions []*models.TrackingSession
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, Prefix: sessionPrefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var s models.TrackingSession
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
				return err
			}
			sessions = append(sessions, &s)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStorage("list sessions", err)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.After(sessions[j].StartedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// scanPrefix decodes every sample under prefix in key order until fn
// returns false.
func scanPrefix(txn *badger.Txn, prefix []byte, fn func(key []byte, s *models.LocationSample) bool) error {
	it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
	defer it.Close()
	for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var s models.LocationSample
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &s) }); err != nil {
			return fmt.Errorf("decode %q: %w", item.Key(), err)
		}
		if !fn(item.KeyCopy(nil), &s) {
			return nil
		}
	}
	return nil
}

func getByID(txn *badger.Txn, id uuid.UUID) ([]byte, *models.LocationSample, error) {
	item, err := txn.Get(indexKey(id))
	if err != nil {
		return nil, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}
	var s models.LocationSample
	if err := getJSON(txn, key, &s); err != nil {
		return nil, nil, err
	}
	return key, &s, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.NewDecoder(bytes.NewReader(val)).Decode(v)
	})
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func nonNil(samples []*models.LocationSample) []*models.LocationSample {
	if samples == nil {
		return []*models.LocationSample{}
	}
	return samples
}
